// The worker runs the admission path without the HTTP API: it drains
// the admission queue and hosts the workflow engine for the executions
// it admits.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/JaimeStill/conveyor/internal/api"
	"github.com/JaimeStill/conveyor/internal/config"
	"github.com/JaimeStill/conveyor/internal/infrastructure"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed:", err)
	}

	infra, err := infrastructure.New(cfg)
	if err != nil {
		log.Fatal("infrastructure init failed:", err)
	}

	runtime := api.NewRuntime(cfg, infra)
	runtime.Logger = infra.Logger.With("module", "worker")

	domain, err := api.NewDomain(infra.Lifecycle.Context(), runtime)
	if err != nil {
		log.Fatal("domain init failed:", err)
	}

	if err := infra.Start(); err != nil {
		log.Fatal("infrastructure start failed:", err)
	}

	go func() {
		infra.Lifecycle.WaitForStartup()
		infra.Logger.Info("worker ready", "version", cfg.Version, "env", cfg.Env())
	}()

	go domain.Worker.Run(infra.Lifecycle.Context())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	if err := infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration()); err != nil {
		log.Fatal("shutdown failed:", err)
	}

	infra.Logger.Info("worker stopped")
}
