package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	afteryou "github.com/Swind/go-after-you"
	"github.com/Swind/go-after-you/core"
	obs "github.com/Swind/go-after-you/observability/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// maxLoadRate keeps the workload ticker interval above zero.
const maxLoadRate = 1_000_000

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Expose scheduler metrics on /metrics while a synthetic workload runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (default: metrics.listen)",
			},
			&cli.IntFlag{
				Name:  "rate",
				Value: 200,
				Usage: fmt.Sprintf("Synthetic tasks enqueued per second, at most %d (0 disables the workload)", maxLoadRate),
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	rate := c.Int("rate")
	if rate < 0 || rate > maxLoadRate {
		return cli.Exit(fmt.Sprintf("--rate must be between 0 and %d, got %d", maxLoadRate, rate), 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	listen := c.String("listen")
	if listen == "" {
		listen = cfg.Metrics.Listen
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to register metrics: %v", err), 1)
	}
	poller, err := obs.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.PollInterval())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to register metrics: %v", err), 1)
	}

	rt := afteryou.New(cfg, afteryou.RuntimeOptions{Metrics: exporter})
	defer rt.Close()
	if !rt.Capabilities().SelfDriving {
		return cli.Exit("serve needs a self-driving host (host.self_driving: true)", 1)
	}

	poller.AddScheduler(rt.Scheduler().Name(), rt.Scheduler())
	poller.AddThrottle("after-you", rt.Throttle())
	poller.AddHost("main", rt.Loop())

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller.Start(ctx)
	defer poller.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	rt.Logger().Info("Serving metrics", core.F("addr", listen), core.F("path", "/metrics"))

	if rate > 0 {
		go generateLoad(ctx, rt, rate)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// generateLoad enqueues short tasks at random priorities, some of which fail
// or get cancelled, until ctx is done.
func generateLoad(ctx context.Context, rt *afteryou.Runtime, perSecond int) {
	ticker := time.NewTicker(time.Second / time.Duration(perSecond))
	defer ticker.Stop()

	priorities := core.Priorities
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p := priorities[rand.IntN(len(priorities))]
		work := time.Duration(rand.IntN(3000)) * time.Microsecond
		h := rt.AddTaskWithPriority(func(ctx context.Context) core.Result {
			spin(work)
			if rand.IntN(50) == 0 {
				return core.Immediate(errors.New("synthetic failure"))
			}
			return core.Immediate(nil)
		}, p)
		if rand.IntN(20) == 0 {
			rt.CancelTask(h)
		}
		if h%1000 == 0 {
			rt.Scheduler().CompactCancellations()
		}
	}
}
