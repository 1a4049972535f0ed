// ====================================
// File: cmd/bot/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/emirhasanov/soltrail/internal/bot"
	"github.com/emirhasanov/soltrail/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logCfg := logger.DefaultConfig()
	logCfg.Development = *debug

	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting trailing engine")

	runner := bot.NewRunner(log)
	if err := runner.Initialize(*configPath); err != nil {
		log.Fatal("failed to initialize engine", zap.Error(err))
	}

	if err := runner.Run(ctx); err != nil {
		log.Fatal("engine exited with error", zap.Error(err))
	}

	log.Info("engine stopped")
}
