package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	afteryou "github.com/Swind/go-after-you"
	"github.com/Swind/go-after-you/worker"
	"github.com/urfave/cli/v2"
)

func offloadCommand() *cli.Command {
	return &cli.Command{
		Name:      "offload",
		Usage:     "Run a Go function literal in an isolated worker",
		ArgsUsage: "[ARG...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "fn",
				Aliases: []string{"f"},
				Usage:   "Function source, e.g. 'func(a, b int) int { return a + b }'",
			},
			&cli.PathFlag{
				Name:  "file",
				Usage: "Read the function source from a file instead of --fn",
			},
			&cli.StringSliceFlag{
				Name:    "import",
				Aliases: []string{"i"},
				Usage:   "Standard library package the function uses (repeatable)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Abort the worker after this long (0 uses worker.timeout_ms)",
			},
		},
		Action: offloadAction,
	}
}

func offloadAction(c *cli.Context) error {
	src := c.String("fn")
	if path := c.Path("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to read %s: %v", path, err), 1)
		}
		src = string(data)
	}
	if strings.TrimSpace(src) == "" {
		return cli.Exit("either --fn or --file is required", 1)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	rt := afteryou.New(cfg, afteryou.RuntimeOptions{})
	defer rt.Close()

	args := make([]any, c.NArg())
	for i, raw := range c.Args().Slice() {
		args[i] = parseArg(raw)
	}

	result, err := rt.RunInWorker(c.Context, src, args, worker.RunOptions{
		Imports: c.StringSlice("import"),
		Timeout: c.Duration("timeout"),
	})
	if err != nil {
		code := 1
		if errors.Is(err, worker.ErrTimeout) {
			code = 124
		}
		return cli.Exit(fmt.Sprintf("Failed: %v", err), code)
	}

	if result == nil {
		fmt.Fprintln(c.App.Writer, "ok")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%v\n", result)
	return nil
}

// parseArg turns a command line argument into the narrowest literal it
// spells: an int, a float, a bool, or otherwise the string itself. A
// quoted argument is always a string.
func parseArg(raw string) any {
	if unquoted, err := strconv.Unquote(raw); err == nil {
		return unquoted
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
