// Command advisorctl runs the setpoint advisor offline against a file of
// recorded telemetry snapshots.
//
// Usage:
//
//	advisorctl optimize --snapshots kiln.jsonl --plant plant.yaml
//	advisorctl pricing --plant plant.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/setpoint/internal/economics"
	"github.com/copyleftdev/setpoint/internal/logging"
	"github.com/copyleftdev/setpoint/internal/plant"
	"github.com/copyleftdev/setpoint/internal/redisstore"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	plantFile string
	redisAddr string
	redisDB   int
	logLevel  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "advisorctl",
		Short:         "Offline setpoint optimization for a clinker kiln line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.plantFile, "plant", "", "plant file with operating limits and pricing (YAML)")
	root.PersistentFlags().StringVar(&g.redisAddr, "redis", "", "redis address to read limits and pricing from")
	root.PersistentFlags().IntVar(&g.redisDB, "redis-db", 0, "redis database number")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newOptimizeCmd(g), newPricingCmd(g))
	return root
}

// logger writes structured logs to stderr so stdout stays pure JSON.
func (g *globalOptions) logger(errOut io.Writer) *zap.Logger {
	return logging.NewZapLogger(logging.New(logging.LogLevel(normalizeLevel(g.logLevel)), errOut))
}

func normalizeLevel(level string) string {
	switch level {
	case "debug", "DEBUG":
		return string(logging.DebugLevel)
	case "info", "INFO":
		return string(logging.InfoLevel)
	case "error", "ERROR":
		return string(logging.ErrorLevel)
	default:
		return string(logging.WarnLevel)
	}
}

// profile loads the plant file, or an empty profile when none is set.
func (g *globalOptions) profile() (*plant.Profile, error) {
	if g.plantFile == "" {
		return &plant.Profile{}, nil
	}
	return plant.LoadProfile(g.plantFile)
}

// basePricing applies the plant file's prices over the defaults.
func basePricing(p *plant.Profile) (economics.Pricing, error) {
	pricing, err := economics.DefaultPricing().With(p.Pricing)
	if err != nil {
		return pricing, fmt.Errorf("plant file pricing: %w", err)
	}
	return pricing, nil
}

// openRedis connects when --redis is set; the returned store is nil otherwise.
func (g *globalOptions) openRedis(base economics.Pricing) (*redisstore.Store, error) {
	if g.redisAddr == "" {
		return nil, nil
	}
	return redisstore.New(g.redisAddr, os.Getenv("REDIS_PASSWORD"), g.redisDB, redisstore.WithBasePricing(base))
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
