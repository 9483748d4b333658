// Command afteryou drives the cooperative scheduler from the terminal:
// a scripted demo, one-off worker offloads, a Prometheus endpoint and an
// interactive TUI.
package main

import (
	"context"
	"fmt"
	"os"

	afteryou "github.com/Swind/go-after-you"
	"github.com/Swind/go-after-you/config"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "afteryou",
		Usage: "Cooperative, priority-ordered task scheduling on a single host thread",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to afteryou.yaml",
				EnvVars: []string{"AFTERYOU_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			demoCommand(),
			offloadCommand(),
			serveCommand(),
			tuiCommand(),
		},
	}
}

// loadConfig reads the global --config file and applies flag overrides.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, cli.Exit(fmt.Sprintf("Failed to load config: %v", err), 1)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

// drain waits for the scheduler to empty its queues, pumping the loop
// itself when the host is not self-driving.
func drain(ctx context.Context, rt *afteryou.Runtime) error {
	if rt.Capabilities().SelfDriving {
		return rt.WaitIdle(ctx)
	}
	return rt.RunUntilIdle(ctx)
}
