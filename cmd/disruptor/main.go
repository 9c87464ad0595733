package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/aradilov/disruptor"
	"github.com/aradilov/disruptor/internal/config"
)

const (
	version = "0.1.0"

	drainTimeout = 10 * time.Second
)

func main() {
	v := viper.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "disruptor",
		Short:   "Single-producer, multi-consumer ring exchange",
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Publish messages to a set of consumers for a fixed duration",
		Long: `Run starts one producer publishing "Message: N" payloads and a roster of
consumers reading every message, optionally chained so that each consumer
stays behind the next one. After the duration the producer stops, the
consumers drain what was published and the counts are reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := runCmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to configuration file")
	flags.Uint("capacity-exponent", 8, "Ring capacity as a power-of-two exponent")
	flags.Int("consumers", 4, "Number of consumers")
	flags.Bool("chain", true, "Make consumer i wait on consumer i+1")
	flags.String("wait-strategy", "spin", "Wait strategy (spin, yield, backoff)")
	flags.Duration("duration", 3*time.Second, "How long the producer publishes")
	flags.Bool("pin-threads", false, "Pin producer and consumers to CPUs")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	for _, name := range []string{"capacity-exponent", "consumers", "chain", "wait-strategy", "duration", "pin-threads", "log-level"} {
		_ = v.BindPFlag(flagKey(name), flags.Lookup(name))
	}

	rootCmd.AddCommand(runCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagKey maps a flag name to its config key.
func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	wait, err := disruptor.ParseWaitStrategy(cfg.WaitStrategy)
	if err != nil {
		return err
	}

	// each count is written only by its consumer task and read after Join
	consumed := make([]uint64, cfg.Consumers)
	opts := []disruptor.Option{
		disruptor.WithLogger(logger),
		disruptor.WithWaitStrategy(wait),
		disruptor.WithCPUPinning(cfg.PinThreads),
	}
	for i := 0; i < cfg.Consumers; i++ {
		i := i
		handler := func(uint64, []byte) { consumed[i]++ }
		var copts []disruptor.ConsumerOption
		if up := cfg.UpstreamOf(i); up >= 0 {
			copts = append(copts, disruptor.WithUpstream(up))
		}
		opts = append(opts, disruptor.WithConsumer(handler, copts...))
	}

	d, err := disruptor.New(cfg.CapacityExponent, opts...)
	if err != nil {
		return fmt.Errorf("failed to create disruptor: %w", err)
	}

	start := time.Now()
	if err := d.Start(produceMessage); err != nil {
		return err
	}

	select {
	case <-time.After(cfg.Duration):
	case <-ctx.Done():
		logger.Info("Interrupted, stopping early")
	}
	d.RequestStop()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := d.AwaitDrained(drainCtx); err != nil {
		return fmt.Errorf("consumers did not drain: %w", err)
	}
	if err := d.Join(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats := d.Stats()
	logger.Info("Run complete",
		zap.Uint64("produced", stats.ProducerCursor),
		zap.Uint64("epoch", stats.Epoch),
		zap.Uint64("producer_spins", stats.ProducerSpins),
		zap.Duration("elapsed", elapsed),
	)
	for i, n := range consumed {
		logger.Info("Consumer finished",
			zap.Int("consumer", i),
			zap.Int("upstream", stats.Consumers[i].Upstream),
			zap.Uint64("consumed", n),
		)
	}
	return nil
}

// produceMessage writes "Message: <seq>" into dst.
func produceMessage(seq uint64, dst []byte) (int, bool) {
	n := copy(dst, "Message: ")
	n += len(strconv.AppendUint(dst[n:n], seq, 10))
	return n, true
}
