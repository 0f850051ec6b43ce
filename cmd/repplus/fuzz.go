package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repplus/internal/fuzz"
	"repplus/internal/replay"
	"repplus/internal/service"
)

var fuzzOpts struct {
	template string
	autoMark bool
	mode     string
	lists    []string
	ranges   []string
	threads  int
	delay    time.Duration
	match    []string
	extract  []string
	output   string
	format   string
}

var fuzzCmd = &cobra.Command{
	Use:   "fuzz -r template.txt -w list.txt [flags]",
	Short: "Run a payload attack against a marked request template",
	Long: `Positions are marked with § on both sides in the template. Each -w file or
--range generator supplies one payload set; sets are consumed in order.`,
	Example: `  repplus fuzz -r login.req -w passwords.txt
  repplus fuzz -r item.req --range 1:500 --match "Not found" -o ids.csv
  repplus fuzz -r login.req -w users.txt -w pass.txt --mode pitchfork --format json -o out.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tpl, err := readInput(fuzzOpts.template)
		if err != nil {
			return err
		}
		if fuzzOpts.autoMark && len(fuzz.ParsePositions(tpl)) == 0 {
			tpl = fuzz.AutoMark(tpl)
		}
		mode, err := fuzz.ParseMode(fuzzOpts.mode)
		if err != nil {
			return err
		}
		sets, err := payloadSets(fuzzOpts.lists, fuzzOpts.ranges)
		if err != nil {
			return err
		}
		threads := fuzzOpts.threads
		if threads <= 0 {
			threads = cfg.Fuzz.Threads
		}
		delay := fuzzOpts.delay
		if !cmd.Flags().Changed("delay") {
			delay = cfg.Fuzz.Delay
		}

		log := newLogger(cfg, false)
		sender, err := replay.NewSender(service.SenderOptions(cfg, log))
		if err != nil {
			return err
		}
		atk, err := fuzz.New(fuzz.Config{
			Template:    tpl,
			Mode:        mode,
			PayloadSets: sets,
			Threads:     threads,
			Delay:       delay,
			Grep:        fuzz.GrepRules{Match: fuzz.Rules(fuzzOpts.match...), Extract: fuzz.Rules(fuzzOpts.extract...)},
		}, sender, fuzz.WithLogger(log), fuzz.WithResultHandler(printResult))
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		go func() {
			<-ctx.Done()
			atk.Stop()
		}()

		fmt.Fprintf(os.Stderr, "[+] %d requests, %d positions, mode %s, %d threads\n",
			atk.Progress().Total, len(atk.Positions()), mode, threads)
		if err := atk.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		p := atk.Progress()
		fmt.Fprintf(os.Stderr, "[+] %s: %d/%d\n", p.State, p.Completed, p.Total)

		return writeResults(atk)
	},
}

func init() {
	f := fuzzCmd.Flags()
	f.StringVarP(&fuzzOpts.template, "request-file", "r", "", "Request template with §markers§ (default stdin)")
	f.BoolVar(&fuzzOpts.autoMark, "auto-mark", false, "Mark parameter values when the template has no markers")
	f.StringVarP(&fuzzOpts.mode, "mode", "m", string(fuzz.ModeSniper), "sniper, battering-ram, pitchfork or cluster-bomb")
	f.StringArrayVarP(&fuzzOpts.lists, "wordlist", "w", nil, "Payload file, one per line (repeatable)")
	f.StringArrayVar(&fuzzOpts.ranges, "range", nil, "Number payloads as from:to[:step] (repeatable)")
	f.IntVarP(&fuzzOpts.threads, "threads", "t", 0, "Concurrent requests (default from config)")
	f.DurationVar(&fuzzOpts.delay, "delay", 0, "Pause between request batches")
	f.StringArrayVar(&fuzzOpts.match, "match", nil, "Grep-match regex flagged per result (repeatable)")
	f.StringArrayVar(&fuzzOpts.extract, "extract", nil, "Grep-extract regex, first group is captured (repeatable)")
	f.StringVarP(&fuzzOpts.output, "output", "o", "", "Write results to file")
	f.StringVar(&fuzzOpts.format, "format", "csv", "Output format: csv, json")
}

// payloadSets 先按顺序加载文件，再追加数字区间
func payloadSets(lists, ranges []string) ([]fuzz.PayloadSet, error) {
	var sets []fuzz.PayloadSet
	for _, path := range lists {
		s, err := fuzz.LoadFile(path)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	for _, r := range ranges {
		s, err := parseRange(r)
		if err != nil {
			return nil, err
		}
		sets = append(sets, s)
	}
	return sets, nil
}

func parseRange(s string) (fuzz.PayloadSet, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("invalid range %q, want from:to[:step]", s)
	}
	nums := []int{0, 0, 1}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", s, err)
		}
		nums[i] = n
	}
	return fuzz.NumberRange(nums[0], nums[1], nums[2])
}

func printResult(r fuzz.Result) {
	status := strconv.Itoa(r.Status)
	if r.Failed() {
		status = "ERR"
	}
	fmt.Fprintf(os.Stderr, "%5d  %-4s %8d  %5dms  %3d%%  %s\n", r.Ordinal, status, r.Length, r.ElapsedMS, r.DiffScore, r.PayloadDisplay)
}

func writeResults(atk *fuzz.Attack) error {
	if fuzzOpts.output == "" {
		return nil
	}
	file, err := os.Create(fuzzOpts.output)
	if err != nil {
		return err
	}
	defer file.Close()
	var w io.Writer = file

	switch fuzzOpts.format {
	case "json":
		data, err := fuzz.ExportJSON(atk.ID(), atk.Progress(), atk.Results())
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "csv":
		return fuzz.ExportCSV(w, atk.Results(), atk.Config().Grep)
	default:
		return fmt.Errorf("unknown format %q", fuzzOpts.format)
	}
}
