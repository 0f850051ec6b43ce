package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"repplus/internal/httpapi"
	"repplus/pkg/api"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with SSE and WebSocket event streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}
		log := newLogger(cfg, true)

		svc := api.NewService(cfg, log)
		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           httpapi.NewServer(svc, log, cfg.Version),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		errCh := make(chan error, 1)
		go func() {
			log.Info("HTTP 服务启动", "addr", cfg.Server.Addr, "devtools", cfg.Devtools.URL)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		log.Info("正在关闭服务")
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		// 先关会话：SSE 长连接会在事件通道关闭后返回
		svc.Close(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Err(err, "HTTP 服务关闭失败")
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "Listen address (default from config)")
}
