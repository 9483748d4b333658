package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	afteryou "github.com/Swind/go-after-you"
	"github.com/Swind/go-after-you/core"
	"github.com/urfave/cli/v2"
)

func demoCommand() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Run a mixed-priority workload while input events arrive",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "tasks",
				Value: 20,
				Usage: "Tasks enqueued per priority",
			},
			&cli.DurationFlag{
				Name:  "work",
				Value: time.Millisecond,
				Usage: "Busy time per task",
			},
			&cli.DurationFlag{
				Name:  "input-every",
				Value: 2 * time.Millisecond,
				Usage: "Interval between synthetic input events (0 disables)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "Give up waiting for the queues to drain after this long",
			},
		},
		Action: demoAction,
	}
}

func demoAction(c *cli.Context) error {
	n := c.Int("tasks")
	if n < 1 {
		return cli.Exit("tasks must be at least 1", 1)
	}
	work := c.Duration("work")

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rt := afteryou.New(cfg, afteryou.RuntimeOptions{})
	defer rt.Close()

	out := c.App.Writer
	fmt.Fprintf(out, "capabilities: %s (strategy %s)\n", rt.Capabilities(), core.SelectStrategy(rt.Capabilities()))

	// Input arrives from outside the loop and runs between slices
	var inputs, maxWaitNs atomic.Int64
	stopInput := make(chan struct{})
	if every := c.Duration("input-every"); every > 0 && rt.Capabilities().SelfDriving {
		go func() {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-stopInput:
					return
				case sent := <-ticker.C:
					rt.Loop().DispatchInput(func() {
						inputs.Add(1)
						wait := time.Since(sent).Nanoseconds()
						for {
							cur := maxWaitNs.Load()
							if wait <= cur || maxWaitNs.CompareAndSwap(cur, wait) {
								break
							}
						}
					})
				}
			}
		}()
	}

	// An idle-priority crunch that relies on AfterYou instead of task splitting
	rt.AddTaskWithPriority(func(ctx context.Context) core.Result {
		deadline := time.Now().Add(time.Duration(n) * work)
		for time.Now().Before(deadline) {
			spin(50 * time.Microsecond)
			if err := rt.AfterYou(ctx); err != nil {
				return core.Immediate(err)
			}
		}
		return core.Immediate(nil)
	}, afteryou.PriorityIdle)

	for i := 0; i < n; i++ {
		for _, p := range []afteryou.Priority{afteryou.PriorityLow, afteryou.PriorityNormal, afteryou.PriorityHigh} {
			rt.Scheduler().AddNamedTask(fmt.Sprintf("%s-%d", p, i), afteryou.Sync(func(ctx context.Context) {
				spin(work)
			}), p)
		}
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	started := time.Now()
	err = drain(ctx, rt)
	close(stopInput)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
	}

	stats := rt.Scheduler().Stats()
	tstats := rt.Throttle().Stats()
	fmt.Fprintf(out, "executed %d tasks in %v with %d yields (%d failed)\n",
		stats.Executed, time.Since(started).Round(time.Millisecond), stats.Yields, stats.Failed)
	fmt.Fprintf(out, "after-you: %d suspensions, %d throttled, %d skipped without input\n",
		tstats.Suspensions, tstats.Throttled, tstats.InputSkipped)
	fmt.Fprintf(out, "input: %d events, worst wait %v\n",
		inputs.Load(), time.Duration(maxWaitNs.Load()).Round(time.Microsecond))
	for _, rec := range rt.Scheduler().RecentTasks(5) {
		fmt.Fprintf(out, "  #%s %-10s %-6s %v\n", rec.Handle, rec.Name, rec.Priority, rec.Duration.Round(time.Microsecond))
	}
	return nil
}

// spin burns CPU for d, standing in for real synchronous work.
func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}
