package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"repplus/internal/rawhttp"
	"repplus/internal/replay"
	"repplus/internal/service"
)

var (
	replayFile     string
	replayJSON     bool
	replayInsecure bool
	replayProxy    string
)

var replayCmd = &cobra.Command{
	Use:   "replay [-r request.txt]",
	Short: "Send a raw HTTP request and print the response",
	Long: `Reads a raw HTTP request from a file or stdin. The URL is rebuilt from the
request line and Host header; the scheme defaults to https unless
X-Forwarded-Proto says otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("insecure") {
			cfg.Replay.Insecure = replayInsecure
		}
		if replayProxy != "" {
			cfg.Replay.Proxy = replayProxy
		}
		raw, err := readInput(replayFile)
		if err != nil {
			return err
		}

		log := newLogger(cfg, false)
		sender, err := replay.NewSender(service.SenderOptions(cfg, log))
		if err != nil {
			return err
		}
		resp, err := sender.ReplayRaw(cmd.Context(), raw)
		if err != nil {
			return err
		}

		if replayJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*replay.Response
				Body      string `json:"body"`
				ElapsedMS int64  `json:"elapsedMs"`
			}{resp, string(resp.Body), resp.ElapsedMS()})
		}
		fmt.Fprint(os.Stdout, rawhttp.EncodeResponse(resp.Status, resp.StatusText, resp.Headers, resp.Body))
		fmt.Fprintf(os.Stderr, "\n[%d bytes in %d ms from %s]\n", resp.Size, resp.ElapsedMS(), resp.FinalURL)
		return nil
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayFile, "request-file", "r", "", "Raw HTTP request file (default stdin)")
	f.BoolVar(&replayJSON, "json", false, "Print the response as JSON")
	f.BoolVarP(&replayInsecure, "insecure", "k", false, "Skip TLS certificate verification")
	f.StringVar(&replayProxy, "proxy", "", "HTTP proxy URL")
}
