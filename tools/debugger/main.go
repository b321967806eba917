// Command debugger logs in with the credentials from a YAML config file,
// subscribes to the configured channel and prints every event it receives
// until interrupted or until the session fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/force-streaming-go/streaming"
	"github.com/Thejuampi/force-streaming-go/streaming/metrics"
)

const defaultConfigPath = "config.yml"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	flags := flag.NewFlagSet("debugger", flag.ContinueOnError)
	flags.SetOutput(stderr)
	metricsAddr := flags.String("metrics-addr", "", "serve prometheus metrics on this address (e.g. ':9090')")
	jsonLogs := flags.Bool("json-logs", false, "write logs as JSON instead of console text")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: debugger [flags] [%s]\n\n", defaultConfigPath)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() > 1 {
		flags.Usage()
		return 1
	}

	path := defaultConfigPath
	if flags.NArg() == 1 {
		path = flags.Arg(0)
	}
	cfg, err := streaming.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(stderr, "debugger: loading %s: %v\n", path, err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "debugger: %s: %v\n", path, err)
		return 1
	}
	if cfg.Channel == "" {
		fmt.Fprintf(stderr, "debugger: %s: channel is required\n", path)
		return 1
	}

	logger := streaming.NewConsoleLogger(stderr, streaming.LevelFor(cfg.Debug))
	if *jsonLogs {
		logger = streaming.NewLogger(stderr, streaming.LevelFor(cfg.Debug))
	}
	logger.Info().Stringer("config", cfg).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := stream(ctx, cfg, logger, stdout, *metricsAddr); err != nil {
		logger.Error().Err(err).Msg("streaming stopped")
		return 1
	}
	return 0
}

// printer writes one line per received event.
type printer struct {
	lock sync.Mutex
	out  io.Writer
}

func (p *printer) handle(message *streaming.Message) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	_, err := fmt.Fprintf(p.out, "%s %s\n", message.Channel, message.Data)
	return err
}

// stream runs one session until ctx ends or the session fails. A cancelled
// ctx is a clean exit.
func stream(ctx context.Context, cfg streaming.Config, logger zerolog.Logger, stdout io.Writer, metricsAddr string, extra ...streaming.Option) error {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	opts := append(collector.Options(),
		streaming.WithLogger(logger),
		streaming.WithObserver(streaming.LogObserver(logger)),
		streaming.WithErrorHandler(collector.ObserveError),
	)
	opts = append(opts, extra...)

	session, err := streaming.Dial(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer session.Close()

	session.AddListener(streaming.ChannelSubscribe, func(message *streaming.Message) error {
		if ok, _ := message.IsSuccessful(); ok {
			logger.Info().Str("channel", message.Subscription).Msg("subscribed")
			return nil
		}
		logger.Warn().Str("channel", message.Subscription).Str("error", message.Error).Msg("subscription rejected")
		return nil
	})

	out := &printer{out: stdout}
	if err := session.Subscribe(cfg.Channel, collector.CountMessages(out.handle)); err != nil {
		if fatal := session.Err(); fatal != nil {
			return fatal
		}
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		server := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	group.Go(func() error {
		_ = session.Wait(groupCtx)
		return session.Err()
	})

	return group.Wait()
}
