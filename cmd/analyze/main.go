// Package main runs a one-shot multi-timeframe context analysis and prints
// the report as JSON on stdout. Logs go to stderr so the output stays
// pipeable into jq or a file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/di"
	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/mtfcontext"
	"github.com/avramidis/skopos/pkg/logger"
)

const closeTimeout = 5 * time.Second

func main() {
	var (
		symbol    = flag.String("symbol", "", "symbol to analyze, e.g. BTCUSDT (required)")
		long      = flag.String("long", "", "long timeframe code, e.g. 1d")
		medium    = flag.String("medium", "", "medium timeframe code, e.g. 4h")
		short     = flag.String("short", "", "short timeframe code, e.g. 1h")
		narrative = flag.Bool("narrative", false, "include the narrative summary")
		reference = flag.String("reference", "", "analyze as of this date (RFC3339 or epoch milliseconds)")
		source    = flag.String("source", "", "market data source (binance or yahoo, default from config)")
		pretty    = flag.Bool("pretty", false, "indent the JSON output")
	)
	flag.Parse()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze -symbol BTCUSDT [-long 1d] [-medium 4h] [-short 1h] [-narrative] [-reference DATE] [-source NAME] [-pretty]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true, Output: os.Stderr})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})

	req := mtfcontext.Request{
		Symbol:           *symbol,
		IncludeNarrative: *narrative,
		Source:           *source,
	}
	if *long != "" {
		req.Timeframes.Long = long
	}
	if *medium != "" {
		req.Timeframes.Medium = medium
	}
	if *short != "" {
		req.Timeframes.Short = short
	}
	// No timeframes requested means the standard 1d/4h/1h set.
	if *long == "" && *medium == "" && *short == "" {
		defaults := []string{"1d", "4h", "1h"}
		req.Timeframes.Long = &defaults[0]
		req.Timeframes.Medium = &defaults[1]
		req.Timeframes.Short = &defaults[2]
	}
	if *reference != "" {
		ts, err := domain.ParseReferenceDate(*reference)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid reference date")
		}
		req.ReferenceDate = &ts
	}

	// Wire builds the full graph but nothing is started: no scheduler runs
	// and no stream connects, so a one-shot analysis stays a one-shot.
	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Context.Timeout)
	defer cancel()

	report, analyzeErr := container.Context.Analyze(ctx, req)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := container.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("Dependency shutdown failed")
	}

	if analyzeErr != nil {
		log.Error().Err(analyzeErr).Str("symbol", *symbol).Msg("Analysis failed")
		os.Exit(1)
	}

	var out []byte
	if *pretty {
		out, err = json.MarshalIndent(report, "", "  ")
	} else {
		out, err = json.Marshal(report)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode report")
	}

	fmt.Println(string(out))
}
