package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/restoflife/ql_sink/config"
	"github.com/restoflife/ql_sink/logger"
	"github.com/restoflife/ql_sink/redis"
	"github.com/restoflife/ql_sink/server"
	"github.com/restoflife/ql_sink/sink"
)

const defaultShutdownTimeout = 10 * time.Second

func main() {
	path := flag.String("config", "ql-sink.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.New(&cfg.Log)
	if err = run(cfg); err != nil {
		logger.Error("ql-sink exited with error", zap.Error(err))
		logger.SyncAll()
		os.Exit(1)
	}
	logger.SyncAll()
}

func run(cfg *config.Config) error {
	rc, err := cfg.Redis.Build()
	if err != nil {
		return err
	}
	bufCfg, retry, err := cfg.Sink.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := redis.NewPool(rc, redis.WithPoolLogger(logger.Named(logger.POOL)))
	if err != nil {
		return err
	}
	// 连接失败不阻止启动，写入会按重试策略处理
	if err = pool.Ping(ctx); err != nil {
		logger.Warn("redis is not reachable at startup", zap.Error(err))
	}
	exec := redis.NewExecutor(pool, redis.WithExecutorLogger(logger.Named(logger.EXECUTOR)))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	writer, err := sink.NewWriter(exec, bufCfg,
		sink.WithLogger(logger.Named(logger.SINK)),
		sink.WithMetrics(sink.NewMetrics(reg, cfg.Metrics.Namespace, cfg.Metrics.Subsystem)),
		sink.WithRetry(retry),
	)
	if err != nil {
		_ = exec.Close()
		return err
	}

	srv := server.New(cfg.HTTP.Addr, writer,
		server.WithLogger(logger.Named(logger.HTTP)),
		server.WithPinger(pool),
		server.WithGatherer(reg),
		server.WithBlocking(cfg.HTTP.Blocking),
	)

	logger.Info("ql-sink started",
		zap.String("mode", string(rc.Mode())),
		zap.String("addr", cfg.HTTP.Addr),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		timeout := time.Duration(cfg.HTTP.ShutdownTimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		logger.Info("shutting down", zap.Duration("timeout", timeout))
		// 先停止接收请求，再把缓冲区写完
		return errors.Join(srv.Shutdown(shutdownCtx), writer.Close(shutdownCtx))
	})
	return g.Wait()
}
