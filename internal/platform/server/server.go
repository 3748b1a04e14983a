package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"show-messenger/internal/platform/config"
	"show-messenger/internal/platform/logger"
)

// Start 啟動 HTTP 伺服器並阻塞到收到關閉信號
// 配置與依賴由調用方（cmd/api）先行初始化
func Start(router http.Handler) error {
	cfg := config.Get()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: 0, // SSE/WebSocket 需要長連接，不設寫超時
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Server.UseHTTPS {
		tlsConfig, err := LoadTLSConfig(TLSConfig{
			Enabled:  true,
			CertFile: cfg.Server.CertPath,
			KeyFile:  cfg.Server.KeyPath,
			CAFile:   cfg.Security.TLS.CAFile,
		})
		if err != nil {
			return err
		}
		server.TLSConfig = tlsConfig
	}

	// start server
	go func() {
		logger.LogInfof("伺服器正在監聽埠口: %s", cfg.Server.Port)

		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertPath, cfg.Server.KeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.LogErrorf("伺服器啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}

	logger.LogInfof("伺服器已優雅關閉")
	return nil
}
