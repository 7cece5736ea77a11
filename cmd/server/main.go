package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attachr/internal/app"
	"attachr/internal/config"
	"attachr/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("配置加载完成，开始启动服务", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	router, err := application.Router()
	if err != nil {
		logger.Error("build router", "error", err)
		os.Exit(1)
	}

	// 上传在请求内完成下载与处理，读写超时按命令超时放宽
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout + time.Minute,
		WriteTimeout:      cfg.CommandTimeout*4 + time.Minute,
		IdleTimeout:       120 * time.Second,
		Handler:           router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务监听", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("监听失败", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("优雅关闭失败", "error", err)
	}
	logger.Info("服务已停止")
}
