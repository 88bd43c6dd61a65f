package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lexport/chatlink/global"
	"github.com/lexport/chatlink/logger"
	"github.com/lexport/chatlink/module/chat/store"
	"github.com/lexport/chatlink/module/manage"
)

// Runs the conversation-management API: the authenticated HTTP surface
// clients use to create, rename, and close conversations. The realtime
// coordination layer itself is consumed as a library (module/chat/session).
func main() {
	confPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := global.Load(*confPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	pg, err := store.Open(ctx, cfg.Postgres.DSN)
	cancel()
	if err != nil {
		logger.Errorf("open postgres: %v", err)
		os.Exit(1)
	}
	defer pg.Close()

	svc := manage.NewService(pg)
	router := svc.Router([]byte(cfg.Manage.JWTSecret))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("management api listening", zap.String("addr", cfg.Manage.Listen))
		errCh <- router.Run(cfg.Manage.Listen)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		logger.Errorf("serve: %v", err)
		os.Exit(1)
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	}
}
