package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/config"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/logger"
	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "mv-debugger")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := service.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create service", zap.Error(err))
	}
	defer srv.Stop()

	serviceErrChan := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-serviceErrChan:
		log.Error("Service failed", zap.Error(err))
		cancel()
	}
}
