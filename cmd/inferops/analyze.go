package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd(load loadFunc) *cobra.Command {
	var (
		cacheContext string
		options      map[string]string
	)

	cmd := &cobra.Command{
		Use:   "analyze TEXT",
		Short: "Analyze one text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				res, err := a.engine.Analyze(ctx, args[0], cacheContext, parseOptions(options))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&cacheContext, "context", "default", "analysis context, part of the cache key")
	cmd.Flags().StringToStringVar(&options, "option", nil, "analysis option key=value (repeatable)")
	return cmd
}

func newBatchCmd(load loadFunc) *cobra.Command {
	var (
		cacheContext string
		file         string
		concurrency  int
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Analyze one text per input line",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := readLines(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return withApp(cmd, load, func(ctx context.Context, a *app) error {
				if concurrency <= 0 {
					concurrency = a.cfg.Engine.MaxConcurrency
				}
				summary, err := a.engine.AnalyzeBatch(ctx, inputs, cacheContext, concurrency)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringVar(&cacheContext, "context", "default", "analysis context, part of the cache key")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "input file, - for stdin")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent upstream calls (default engine.max_concurrency)")
	return cmd
}

func withApp(cmd *cobra.Command, load loadFunc, fn func(context.Context, *app) error) error {
	cfg, err := load(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// parseOptions converts flag values to typed options so numeric values
// hash the same as they would from a JSON request.
func parseOptions(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	opts := make(map[string]any, len(raw))
	for k, v := range raw {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			opts[k] = n
			continue
		}
		opts[k] = v
	}
	return opts
}

func readLines(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	return lines, nil
}
