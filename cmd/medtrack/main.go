package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/app"
	"github.com/gmsas95/medtrack/internal/cli"
	"github.com/gmsas95/medtrack/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Usage = func() { cli.PrintExtendedHelp(os.Stderr) }
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 {
		cli.PrintExtendedHelp(os.Stdout)
		return
	}
	switch args[0] {
	case "help", "--help", "-h":
		cli.PrintExtendedHelp(os.Stdout)
		return
	case "version", "--version", "-v":
		fmt.Printf("medtrack version %s\n", version)
		return
	}

	application := initApp(args[0] == "serve" || args[0] == "daemon")

	err := cli.New(application, os.Stdout).Run(context.Background(), args)
	_ = application.Logger.Sync()
	if cerr := application.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initApp loads config and wires services. One-shot commands log at warn
// and above so their output stays readable.
func initApp(daemon bool) *app.App {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := cfg.Log
	if !daemon && (logCfg.Level == "" || logCfg.Level == "info") {
		logCfg.Level = "warn"
	}
	logger, err := app.NewLogger(logCfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if daemon {
		logger.Info("Starting medtrack",
			zap.String("version", version),
			zap.String("data_dir", cfg.Storage.DataDir),
		)
	}

	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	return application
}
