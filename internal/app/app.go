// Package app composes the relay server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"matchrelay/internal/auth"
	"matchrelay/internal/blob"
	"matchrelay/internal/config"
	"matchrelay/internal/gateway"
	"matchrelay/internal/match"
	"matchrelay/internal/metrics"
	"matchrelay/internal/network"
	"matchrelay/internal/results"
	"matchrelay/internal/services/cluster"
	"matchrelay/internal/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// App is a fully wired relay server.
type App struct {
	cfg config.Config
	log *zap.Logger

	store    *sqlite.Store
	natsConn *nats.Conn
	redis    *redis.Client
	consul   *cluster.ConsulManager

	queue   *match.Queue
	engine  *match.Engine
	ws      *network.Server
	health  *cluster.HealthAggregator
	handler http.Handler
}

// New opens every dependency cfg asks for. Callers must Close the app.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, health: cluster.NewHealthAggregator()}
	if err := a.build(); err != nil {
		return nil, multierr.Append(err, a.Close())
	}
	return a, nil
}

func (a *App) build() error {
	cfg, log := a.cfg, a.log
	var err error
	if a.store, err = sqlite.Open(cfg.DatabasePath); err != nil {
		return err
	}
	a.health.AddCheck("sqlite", a.store.Ping)

	photos, err := blob.NewFSStore(cfg.PhotoDir, cfg.PhotoBaseURL)
	if err != nil {
		return err
	}

	tokens := auth.NewTokens([]byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	accounts := auth.NewService(a.store, tokens, log.Named("auth"))
	validator := auth.NewCachedValidator(tokens, cfg.TokenCacheSize)

	sinks, err := a.resultSinks()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	policy, err := match.PolicyByName(cfg.PairingPolicy)
	if err != nil {
		return err
	}
	sessions := match.NewSessions(m)
	a.queue = match.NewQueue(sessions, policy, log.Named("queue"), m)
	a.engine = match.NewEngine(match.EngineConfig{
		Validator:     validator,
		Results:       sinks,
		Connections:   match.NewConnections(m),
		Queue:         a.queue,
		Sessions:      sessions,
		Logger:        log.Named("engine"),
		Metrics:       m,
		ResultTimeout: cfg.ResultTimeout,
	})
	a.health.AddCheck("queue", func(ctx context.Context) error {
		_, err := a.queue.Len(ctx)
		return err
	})

	gw := gateway.NewHandler(accounts, photos, a.engine, log.Named("gateway"))
	a.ws = network.NewServer(gw, log.Named("ws"), network.Options{MaxMessageSize: cfg.MaxMessageBytes})

	mux := http.NewServeMux()
	mux.Handle("/ws", a.ws)
	mux.Handle("/health", a.health.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/photos/", http.StripPrefix("/photos/", http.FileServer(http.Dir(photos.Dir()))))
	a.handler = mux
	return nil
}

func (a *App) resultSinks() (results.Fanout, error) {
	var sinks results.Fanout
	if a.cfg.HasSink(config.SinkSQLite) {
		sinks = append(sinks, a.store)
	}
	if a.cfg.HasSink(config.SinkNATS) {
		nc, err := nats.Connect(a.cfg.NATSURL,
			nats.Name(a.cfg.ServiceName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(500*time.Millisecond),
			nats.Timeout(3*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.natsConn = nc
		a.health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		sinks = append(sinks, results.NewNATSPublisher(nc, a.cfg.NATSSubject))
	}
	if a.cfg.HasSink(config.SinkRedis) {
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.health.AddCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
		sinks = append(sinks, results.NewRedisStream(a.redis, a.cfg.RedisStream))
	}
	if a.cfg.HasSink(config.SinkLog) {
		sinks = append(sinks, results.NewLog(a.log.Named("results")))
	}
	return sinks, nil
}

// Handler returns the HTTP routes of the server.
func (a *App) Handler() http.Handler { return a.handler }

// Run serves until ctx is cancelled, then drains in-flight result writes.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.ConsulAddr != "" {
		if err := a.registerConsul(); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.ws.Run(gctx)
		return nil
	})
	if a.consul != nil {
		g.Go(func() error {
			a.consul.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		a.log.Info("listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.engine.Wait()
	if a.consul != nil {
		err = multierr.Append(err, cluster.Deregister(a.consul, a.serviceInfo()))
	}
	a.log.Info("server stopped")
	return err
}

func (a *App) serviceInfo() cluster.ServiceInfo {
	info := cluster.ServiceInfo{Name: a.cfg.ServiceName, Host: a.cfg.AdvertisedHost}
	if _, port, err := net.SplitHostPort(a.cfg.HTTPAddr); err == nil {
		info.Port, _ = strconv.Atoi(port)
	}
	return info
}

func (a *App) registerConsul() error {
	m, err := cluster.NewConsulManager(a.cfg.ConsulAddr, a.log)
	if err != nil {
		return err
	}
	if err := cluster.Register(m, a.serviceInfo()); err != nil {
		return err
	}
	a.consul = m
	a.health.AddCheck("consul", m.Check)
	return nil
}

// Close releases every opened dependency.
func (a *App) Close() error {
	var err error
	if a.natsConn != nil {
		err = multierr.Append(err, a.natsConn.Drain())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}
