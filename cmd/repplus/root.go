package main

import (
	"os"

	"github.com/spf13/cobra"

	"repplus/internal/config"
	"repplus/internal/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "repplus",
	Short: "Browser-driven interception, replay and fuzzing toolkit",
	Long: `repplus attaches to a Chromium tab over the DevTools protocol, pauses its
requests and responses for manual editing, replays raw HTTP requests and runs
payload attacks against marked request templates.`,
	Example: `  repplus serve --config repplus.yaml
  repplus targets --devtools http://127.0.0.1:9222
  repplus replay -r login.req
  repplus fuzz -r login.req -w users.txt -w passwords.txt --mode cluster-bomb -o out.csv`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&configPath, "config", "c", "repplus.yaml", "YAML config file (missing file is ignored)")
	f.StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, targetsCmd, replayCmd, codecCmd, fuzzCmd)
}

// loadConfig 读取配置并应用命令行覆盖
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger 服务模式按配置输出；一次性命令只写 stderr，避免污染 stdout
func newLogger(cfg *config.Config, serve bool) logger.Logger {
	if !serve {
		return logger.NewWithWriter(os.Stderr, cfg.Log.Level)
	}
	return logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})
}
