package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tabguard/tabguard/internal/app"
	"github.com/tabguard/tabguard/internal/config"

	log "github.com/sirupsen/logrus"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "serve"
	}

	cfg, errLoad := config.Load(config.ResolveConfigPath(configPath))
	if errLoad != nil {
		log.Fatalf("load config: %v", errLoad)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var errRun error
	switch command {
	case "serve":
		errRun = app.RunServer(ctx, cfg)
	case "migrate":
		errRun = app.Migrate(ctx, cfg)
	case "setup":
		errRun = app.Setup(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected serve, migrate, or setup)\n", command)
		os.Exit(2)
	}
	if errRun != nil {
		log.Fatalf("%s: %v", command, errRun)
	}
}
