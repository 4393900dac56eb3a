package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"skstream/internal/health"
	"skstream/internal/ingest"
	"skstream/internal/link"
	"skstream/internal/obs"
	"skstream/internal/ops"
	"skstream/internal/sink"
	"skstream/internal/sink/mqttsink"
	"skstream/internal/sink/pgsink"
	"skstream/pkg/conn"
	"skstream/pkg/websocket"
)

func main() {
	if err := run(); err != nil {
		log.Printf("skstream: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "YAML config file (built-in defaults when empty)")
	printConfig := flag.Bool("print-config", false, "print the resolved config and exit")
	flag.Parse()

	cfg := ops.Default()
	if *configPath != "" {
		loaded, err := ops.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Profiling.Enabled {
		profiler, err := startProfiler(cfg.Profiling)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		obs.NewCollector(metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	group, gctx := errgroup.WithContext(ctx)

	sinks := sink.Multi{}
	if cfg.Console.Enabled {
		sinks = append(sinks, sink.NewLogSink(cfg.Console.AnglePaths))
	}
	if cfg.Postgres.Enabled {
		pg, err := conn.OpenPostgres(ctx, cfg.Postgres.PostgresOption)
		if err != nil {
			return err
		}
		defer pg.Close()
		rec, err := pgsink.New(ctx, pg.DB(), cfg.Recorder(), metrics)
		if err != nil {
			return err
		}
		sinks = append(sinks, rec)
		group.Go(func() error { return rec.Run(gctx) })
	}
	if cfg.MQTT.Enabled {
		client, err := mqttsink.Dial(ctx, cfg.MQTT.Option)
		if err != nil {
			return err
		}
		defer client.Close()
		pub, err := mqttsink.New(client, cfg.MQTT.Option, metrics)
		if err != nil {
			return err
		}
		sinks = append(sinks, pub)
		group.Go(func() error { return pub.Run(gctx) })
	}

	var lnk ingest.Link = link.Static{}
	var signalSrc link.SignalReporter
	if cfg.Link.Interface != "" {
		iface := link.NewInterface(cfg.Link.Interface)
		lnk, signalSrc = iface, iface
	}

	endpoint, dialOpt := cfg.Endpoint(), cfg.DialOption()
	dial := func(ctx context.Context) (ingest.Transport, error) {
		c, err := websocket.Dial(ctx, endpoint, dialOpt)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	supervisor, err := ingest.NewSupervisor(cfg.Ingest(), dial, lnk, sinks, metrics)
	if err != nil {
		return err
	}
	logs.Infof("skstream: streaming from ws://%s%s", endpoint.Addr(), endpoint.Path)

	group.Go(func() error { return supervisor.Run(gctx) })
	group.Go(func() error { return ingest.RunIndicator(gctx, cfg.Intervals.Indicator, supervisor, sinks) })
	group.Go(func() error { return ingest.ReportStatistics(gctx, cfg.Intervals.Statistics, metrics) })
	if signalSrc != nil {
		group.Go(func() error { return link.RunPoller(gctx, cfg.Intervals.LinkPoll, signalSrc, metrics) })
	}
	if cfg.Health.Listen != "" {
		srv := health.NewServer(cfg.Health.Listen, health.NewRouter(supervisor, registry))
		group.Go(func() error { return srv.Run(gctx) })
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logs.Info("skstream: stopped")
	return nil
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
