// Command bot runs scripted players against a relay server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matchrelay/internal/bot"
	"matchrelay/internal/logging"
)

func main() {
	url := flag.String("url", "ws://localhost:8081/ws", "server WebSocket URL")
	count := flag.Int("count", 2, "number of concurrent bots")
	prefix := flag.String("prefix", "bot", "username prefix")
	games := flag.Int("games", 3, "games per bot")
	moves := flag.Int("moves", 9, "moves per game")
	think := flag.Duration("think", 500*time.Millisecond, "maximum pause before a move")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(*level, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *count; i++ {
		cfg := bot.Config{
			URL:      *url,
			Username: fmt.Sprintf("%s-%d", *prefix, i),
			Games:    *games,
			Moves:    *moves,
			Think:    *think,
		}
		g.Go(func() error {
			_, err := bot.New(cfg, log).Run(gctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("bot failed", zap.Error(err))
		os.Exit(1)
	}
}
