// Package main implements fakeforce, a deterministic SOAP login and Bayeux
// long-polling responder for integration testing of streaming clients
// without a real org. It issues session tokens, assigns client ids, holds
// connect polls open until an event is published or the advised timeout
// elapses, and accepts events through a small admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Thejuampi/force-streaming-go/streaming"
)

var (
	flagAddr          = flag.String("addr", "127.0.0.1:19080", "listen address")
	flagUsers         = flag.String("user", "", "accepted credentials as user:pass pairs (e.g. 'u1:p1,u2:p2'); empty accepts anyone")
	flagTopics        = flag.String("topics", "", "comma-separated channels that may be subscribed; empty allows any")
	flagAdviceTimeout = flag.Duration("advice-timeout", 110*time.Second, "how long a connect poll is held open")
	flagDebug         = flag.Bool("debug", false, "log every bayeux message")
)

// parseUsers reads "user:pass,user2:pass2". Malformed pairs are skipped.
func parseUsers(list string) map[string]string {
	users := make(map[string]string)
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		name, password, ok := strings.Cut(pair, ":")
		if !ok || name == "" {
			continue
		}
		users[name] = password
	}
	return users
}

func parseTopics(list string) map[string]struct{} {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	topics := make(map[string]struct{})
	for _, topic := range strings.Split(list, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			topics[topic] = struct{}{}
		}
	}
	return topics
}

func main() {
	flag.Parse()

	logger := streaming.NewConsoleLogger(os.Stderr, streaming.LevelFor(*flagDebug)).With().Str("component", "fakeforce").Logger()
	srv := newServer(serverOptions{
		users:         parseUsers(*flagUsers),
		topics:        parseTopics(*flagTopics),
		adviceTimeout: *flagAdviceTimeout,
		logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              *flagAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		srv.dropAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Str("addr", *flagAddr).
		Int("users", len(srv.options.users)).
		Int("topics", len(srv.options.topics)).
		Dur("advice_timeout", *flagAdviceTimeout).
		Msg("fakeforce listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen failed")
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakeforce: deterministic SOAP login and Bayeux long-poll responder\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
