package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/erain9/exchango/pkg/logging"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to scenario file (YAML)")
	shuffle := flag.Bool("shuffle", false, "Deliver events of each broker in random order")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for -shuffle")
	workers := flag.Int("workers", 0, "Worker pool size (default: scenario value or 4)")
	logLevel := flag.String("log_level", "warn", "Log level: debug, info, warn, error")
	noColor := flag.Bool("no_color", false, "Disable coloured output")
	timeout := flag.Duration("timeout", 30*time.Second, "Maximum time to wait for the result")
	flag.Parse()

	logging.Setup(logging.Config{Level: *logLevel, Format: logging.FormatConsole, Output: os.Stderr})
	color.NoColor = color.NoColor || *noColor

	if *scenarioPath == "" {
		log.Fatal().Msg("-scenario is required")
	}

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load scenario")
	}
	if *workers > 0 {
		sc.Workers = *workers
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runID, result, err := replay(ctx, sc, options{shuffle: *shuffle, seed: *seed})
	if err != nil {
		log.Fatal().Err(err).Msg("Replay failed")
	}

	printResult(os.Stdout, runID, result)
}
