package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"aurora-guest-monitor/internal/agent"
	"aurora-guest-monitor/internal/config"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file (overrides AURORA_CONFIG_FILE)")
	showVersion := flag.Bool("version", false, "print the agent version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(config.HardcodedVersion)
		return
	}
	if *configFile != "" {
		if err := os.Setenv("AURORA_CONFIG_FILE", *configFile); err != nil {
			log.Fatalf("set config file: %v", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		os.Exit(1)
	}

	if err := a.Run(context.Background()); err != nil {
		logger.Error("agent runtime failed", "error", err)
		os.Exit(1)
	}
}
