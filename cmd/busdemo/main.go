// Command busdemo publishes a stdin-selected number of integer events and
// consumes them through a blocking listener, then prints the final bus load.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/typebus/config"
	"github.com/coachpo/typebus/core/events"
	"github.com/coachpo/typebus/eventbus"
	"github.com/coachpo/typebus/internal/bus"
	"github.com/coachpo/typebus/internal/janitor"
	"github.com/coachpo/typebus/internal/observability"
	"github.com/coachpo/typebus/lib/telemetry"
)

const (
	telemetryShutdownTimeout = 5 * time.Second
	publishInterval          = 10 * time.Millisecond
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML settings file")
	flag.Parse()

	cfg, fromFile, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewZerolog(os.Stderr, cfg.ServiceName, cfg.LogLevel)
	observability.SetLogger(logger)
	if !fromFile {
		logger.Info("configuration file not found, using defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, shutdownTelemetry, err := telemetry.Init(ctx, cfg)
	if err != nil {
		logger.Error("init telemetry", observability.F("error", err))
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Error("shutdown telemetry", observability.F("error", err))
		}
	}()

	var b *eventbus.Bus
	metrics, err := telemetry.NewBusMetrics(
		providers.MeterProvider.Meter("github.com/coachpo/typebus/cmd/busdemo"),
		func() bus.Load { return b.Load() },
	)
	if err != nil {
		logger.Error("init bus metrics", observability.F("error", err))
		os.Exit(1)
	}
	b = eventbus.New(eventbus.WithLogger(logger), eventbus.WithMetrics(metrics))
	defer b.Close()

	if cfg.Janitor.Enabled {
		jan, err := janitor.New(b, cfg.Janitor, logger)
		if err != nil {
			logger.Error("init janitor", observability.F("error", err))
			os.Exit(1)
		}
		jan.Start()
		defer jan.Stop()
	}

	count, err := readCount(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read event count: %v\n", err)
		os.Exit(1)
	}

	p := b.CreatePublisher(eventbus.WithRateLimit(rate.Every(publishInterval), 1))
	l := b.CreateListener()
	defer l.Close()

	drained := make(chan struct{})

	var wg conc.WaitGroup
	wg.Go(func() {
		for i := 1; i <= count; i++ {
			if ctx.Err() != nil {
				return
			}
			if !eventbus.Publish(p, i) {
				logger.Error("publish rejected", observability.F("value", i))
				return
			}
		}
		// Close only after the listener consumed everything: closing the
		// channel discards events that are still retained.
		select {
		case <-drained:
		case <-ctx.Done():
		}
		eventbus.CloseChannel[int](p)
	})
	wg.Go(func() {
		received := 0
		for {
			ev := eventbus.Wait[int](ctx, l)
			if ev == nil {
				return
			}
			v, _ := events.Data[int](ev)
			fmt.Printf("received event: %d\n", v)
			received++
			if received == count {
				close(drained)
			}
		}
	})
	wg.Wait()

	raw, err := telemetry.EncodeLoad(b.Load())
	if err != nil {
		logger.Error("encode load", observability.F("error", err))
		return
	}
	fmt.Printf("final load: %s\n", raw)
}

func readCount(in *os.File) (int, error) {
	fmt.Print("Enter amount of events to share: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d", n)
	}
	return n, nil
}
