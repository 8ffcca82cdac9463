package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"jarpc/codec"
	"jarpc/config"
	"jarpc/dispatcher"
	"jarpc/logx"
	"jarpc/manager"
	"jarpc/middleware"
	"jarpc/registry"
	"jarpc/server"
	"jarpc/transport/redisq"
)

type ServeCmd struct {
	Config   string `help:"YAML config file" env:"JARPC_CONFIG"`
	Listen   string `help:"Framed TCP listen address"`
	HTTP     string `name:"http" help:"HTTP listen address"`
	Codec    string `help:"Default codec (json, cbor)"`
	LogLevel string `name:"log-level" help:"Log verbosity (all, debug, info, warn, error, fatal, none)"`
	Console  bool   `help:"Human-readable log output"`
}

// load applies defaults, the config file, the environment and finally the
// flags that were set.
func (s *ServeCmd) load() (*config.Config, error) {
	cfg := &config.Config{}
	if s.Config != "" {
		if err := cfg.LoadFile(s.Config); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if s.Listen != "" {
		cfg.ListenAddr = s.Listen
	}
	if s.HTTP != "" {
		cfg.HTTPAddr = s.HTTP
	}
	if s.Codec != "" {
		cfg.Codec = s.Codec
	}
	if s.LogLevel != "" {
		cfg.LogLevel = s.LogLevel
	}
	cfg.SetDefaults()
	return cfg, cfg.Validate()
}

func (s *ServeCmd) Run() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	logx.Configure(cfg.LogLevel, os.Stderr, s.Console)
	log := logx.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mgr, err := newManager(cfg, log, promReg)
	if err != nil {
		return err
	}
	promReg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "jarpc_background_calls",
		Help: "Fire-and-forget calls currently running.",
	}, func() float64 { return float64(mgr.Pending()) }))

	var reg registry.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.EtcdEndpoints, log)
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.ListenAddr != "" {
		svr := server.NewServer(mgr,
			server.WithLogger(log),
			server.WithCompression(cfg.Compress),
			server.WithServiceName(cfg.ServiceName),
			server.WithLeaseTTL(cfg.LeaseTTL),
		)
		g.Go(func() error { return svr.Serve("tcp", cfg.ListenAddr, cfg.AdvertiseAddr, reg) })
		g.Go(func() error {
			<-gctx.Done()
			return drain(cfg, svr.Shutdown)
		})
	}

	if cfg.HTTPAddr != "" {
		hs := &http.Server{Addr: cfg.HTTPAddr, Handler: server.NewHTTPHandler(mgr, log, promReg)}
		g.Go(func() error {
			log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
			if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return drain(cfg, hs.Shutdown)
		})
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisq.Connect(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		consumer := redisq.NewConsumer(rdb, cfg.RedisQueue, mgr, redisq.ConsumerOptions{
			Workers: cfg.RedisWorkers,
			Log:     log,
		})
		g.Go(func() error {
			log.Info().Str("queue", cfg.RedisQueue).Msg("consuming redis queue")
			return consumer.Run(gctx)
		})
	}

	err = g.Wait()
	if derr := drain(cfg, mgr.Shutdown); derr != nil {
		log.Warn().Err(derr).Msg("background calls still running at exit")
	}
	log.Info().Msg("stopped")
	return err
}

func drain(cfg *config.Config, shutdown func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	return shutdown(ctx)
}

func newManager(cfg *config.Config, log zerolog.Logger, promReg prometheus.Registerer) (*manager.Manager, error) {
	c, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	d := dispatcher.New()
	if err := registerBuiltins(d); err != nil {
		return nil, err
	}

	mws := []middleware.Middleware{
		middleware.RecoverMiddleware(),
		middleware.LoggingMiddleware(log),
		middleware.MetricsMiddleware(middleware.NewMetrics(promReg)),
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.CallTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.CallTimeout))
	}

	return manager.New(d,
		manager.WithLogger(log),
		manager.WithCodec(c),
		manager.WithContext(cfg.Context),
		manager.WithTaskLimit(cfg.MaxTasks),
		manager.WithMiddleware(mws...),
	)
}
