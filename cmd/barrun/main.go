package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"barrun/internal/config"
	"barrun/internal/util"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: barrun <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the version\n")
	fmt.Fprintf(os.Stderr, "  strategies   List built-in strategies and their default parameters\n")
	fmt.Fprintf(os.Stderr, "  ingest       Import a CSV bar feed into the bar store\n")
	fmt.Fprintf(os.Stderr, "  funding      Download funding rate history into the store\n")
	fmt.Fprintf(os.Stderr, "  backtest     Run one strategy over one symbol\n")
	fmt.Fprintf(os.Stderr, "  batch        Run one strategy over many symbols in parallel\n")
	fmt.Fprintf(os.Stderr, "  runs         List saved runs\n")
	fmt.Fprintf(os.Stderr, "  signal       Replay history and route fresh orders to Alpaca\n")
	fmt.Fprintf(os.Stderr, "  serve        Serve saved runs and metrics over HTTP\n")
	fmt.Fprintf(os.Stderr, "\nRun 'barrun <command> -h' for command options.\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("barrun %s\n", version)
		return
	}

	cfgPath := "config/barrun.yaml"
	if p := os.Getenv("BARRUN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = config.Default()
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &app{cfg: cfg, logger: logger}
	var runErr error
	switch cmd {
	case "strategies":
		runErr = app.strategies(args)
	case "ingest":
		runErr = app.ingest(ctx, args)
	case "funding":
		runErr = app.funding(ctx, args)
	case "backtest":
		runErr = app.backtest(ctx, args)
	case "batch":
		runErr = app.batch(ctx, args)
	case "runs":
		runErr = app.runs(ctx, args)
	case "signal":
		runErr = app.signal(ctx, args)
	case "serve":
		runErr = app.serve(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if runErr != nil {
		log.Fatalf("%s: %v", cmd, runErr)
	}
}
