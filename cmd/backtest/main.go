// Package main replays regime detection over a historical window: it walks
// a reference date from -from to -to in -step increments, classifies the
// market at each point and prints the regime distribution as JSON. Results
// are not persisted anywhere.
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
	"github.com/avramidis/skopos/internal/modules/regime"
	"github.com/avramidis/skopos/internal/utils"
	"github.com/avramidis/skopos/pkg/logger"
)

const (
	stepTimeout  = 30 * time.Second
	closeTimeout = 5 * time.Second
)

type regimeTally struct {
	Count         int     `json:"count"`
	Share         float64 `json:"share"`
	AvgConfidence float64 `json:"avg_confidence"`
}

type summary struct {
	Symbol      string                 `json:"symbol"`
	Timeframe   string                 `json:"timeframe"`
	From        time.Time              `json:"from"`
	To          time.Time              `json:"to"`
	Step        string                 `json:"step"`
	Steps       int                    `json:"steps"`
	Errors      int                    `json:"errors"`
	Transitions int                    `json:"transitions"`
	Regimes     map[string]regimeTally `json:"regimes"`
}

func main() {
	var (
		symbol    = flag.String("symbol", "", "symbol to backtest, e.g. BTCUSDT (required)")
		timeframe = flag.String("timeframe", "1h", "timeframe code, e.g. 1h")
		from      = flag.String("from", "", "window start (RFC3339 or epoch milliseconds, required)")
		to        = flag.String("to", "", "window end (default now)")
		step      = flag.Duration("step", 24*time.Hour, "reference date increment per detection")
		count     = flag.Int("count", 250, "bars per detection")
		source    = flag.String("source", "", "market data source (binance or yahoo, default from config)")
		pretty    = flag.Bool("pretty", false, "indent the JSON output")
	)
	flag.Parse()

	if *symbol == "" || *from == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest -symbol BTCUSDT -from 2024-01-01T00:00:00Z [-to DATE] [-timeframe 1h] [-step 24h] [-count 250] [-source NAME] [-pretty]")
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

	fromTime, err := domain.ParseReferenceDate(*from)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -from date")
	}
	toTime := time.Now().UTC()
	if *to != "" {
		toTime, err = domain.ParseReferenceDate(*to)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -to date")
		}
	}
	if !fromTime.Before(toTime) {
		log.Fatal().Time("from", fromTime).Time("to", toTime).Msg("-from must be before -to")
	}
	if *step <= 0 {
		log.Fatal().Dur("step", *step).Msg("-step must be positive")
	}

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	tallies := make(map[string]*regimeTally)
	confidenceSums := make(map[string]float64)
	steps, failures, transitions := 0, 0, 0
	lastRegime := ""

	for current := fromTime; !current.After(toTime); current = current.Add(*step) {
		ref := current
		stepCtx, stepCancel := context.WithTimeout(context.Background(), stepTimeout)
		result, err := container.Regime.Detect(stepCtx, regime.Request{
			Symbol:        *symbol,
			Timeframe:     *timeframe,
			Count:         *count,
			ReferenceDate: &ref,
			Source:        *source,
		})
		stepCancel()
		steps++

		if err != nil {
			failures++
			log.Warn().Err(err).Time("reference", ref).Msg("Detection step failed")
			continue
		}

		tally, ok := tallies[result.Regime]
		if !ok {
			tally = &regimeTally{}
			tallies[result.Regime] = tally
		}
		tally.Count++
		confidenceSums[result.Regime] += result.Confidence

		if lastRegime != "" && lastRegime != result.Regime {
			transitions++
		}
		lastRegime = result.Regime

		log.Debug().
			Time("reference", ref).
			Str("regime", result.Regime).
			Float64("confidence", result.Confidence).
			Msg("Step classified")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := container.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("Dependency shutdown failed")
	}

	succeeded := steps - failures
	if succeeded == 0 {
		log.Error().Int("steps", steps).Msg("Every detection step failed")
		os.Exit(1)
	}

	report := summary{
		Symbol:      *symbol,
		Timeframe:   *timeframe,
		From:        fromTime,
		To:          toTime,
		Step:        step.String(),
		Steps:       steps,
		Errors:      failures,
		Transitions: transitions,
		Regimes:     make(map[string]regimeTally, len(tallies)),
	}
	for name, tally := range tallies {
		report.Regimes[name] = regimeTally{
			Count:         tally.Count,
			Share:         utils.Round2(float64(tally.Count) / float64(succeeded)),
			AvgConfidence: utils.Round2(confidenceSums[name] / float64(tally.Count)),
		}
	}

	var out []byte
	if *pretty {
		out, err = json.MarshalIndent(report, "", "  ")
	} else {
		out, err = json.Marshal(report)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode summary")
	}

	fmt.Println(string(out))
}
