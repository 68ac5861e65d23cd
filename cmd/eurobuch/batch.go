package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-eurobuch/pipeline"
	"github.com/aluiziolira/go-eurobuch/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type batchStats struct {
	queries   int
	failed    atomic.Int64
	converted atomic.Int64
	requests  atomic.Int64
	retries   atomic.Int64
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		input       string
		output      string
		format      string
		parallel    int
		metricsAddr string
		save        bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Search many queries and export all offers",
		Long: `Batch reads one query per line (blank lines and lines starting with #
are skipped), searches them in parallel and streams every ranked offer into
a CSV, JSONL, Parquet or dual CSV+JSONL export.`,
		Example: `  eurobuch batch --input isbns.txt --output out/offers.parquet --format parquet
  eurobuch batch --input wishlist.txt --format dual --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *a.cfg
			flags := cmd.Flags()
			if flags.Changed("output") {
				cfg.OutputFile = output
			}
			if flags.Changed("format") {
				cfg.OutputFormat = strings.ToLower(format)
			}
			if flags.Changed("parallel") {
				cfg.Parallelism = parallel
			}
			if flags.Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.cfg = &cfg

			queries, err := readQueries(input)
			if err != nil {
				return err
			}
			return a.runBatch(cmd.Context(), cmd.OutOrStdout(), queries, save)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "File with one query per line (- for stdin)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (env EUROBUCH_OUTPUT)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: csv, json, parquet, or dual")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "Number of concurrent searches (env EUROBUCH_PARALLEL)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	cmd.Flags().BoolVar(&save, "history", false, "Record every search in the history database")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func (a *app) runBatch(ctx context.Context, out io.Writer, queries []string, save bool) error {
	cfg := a.cfg
	client, err := a.newClient()
	if err != nil {
		return err
	}

	var history *store.Store
	if save {
		if history, err = a.openHistory(); err != nil {
			return err
		}
		defer history.Close()
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(client.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	slog.Info("starting batch",
		slog.Int("queries", len(queries)),
		slog.Int("workers", cfg.Parallelism),
		slog.String("output", cfg.OutputFile),
		slog.String("format", cfg.OutputFormat),
	)

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	stats := &batchStats{queries: len(queries)}
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	for _, query := range queries {
		g.Go(func() error {
			result, err := client.Search(gctx, query)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				stats.failed.Add(1)
				slog.Error("search failed", slog.String("query", query), slog.Any("error", err))
				return nil
			}

			stats.requests.Add(int64(result.RequestCount))
			stats.retries.Add(int64(result.RetryCount))
			if result.Conversion != nil {
				stats.converted.Add(1)
			}
			if history != nil {
				if err := history.SaveSearch(gctx, result); err != nil {
					slog.Error("save search history", slog.String("query", query), slog.Any("error", err))
				}
			}
			return p.ProcessResult(result)
		})
	}
	runErr := g.Wait()

	closeErr := p.Close()
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
	}
	if runErr != nil {
		return fmt.Errorf("batch interrupted: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", closeErr)
	}

	snapshot := p.GetMetrics()
	processed, _ := snapshot["processed_offers"].(int64)
	if processed > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation failed: %w", err)
		}
	} else {
		slog.Warn("no offers exported", slog.String("output", cfg.OutputFile))
	}

	printSummary(out, stats, time.Since(startTime), cfg.OutputFile, snapshot)
	return nil
}

// readQueries loads one query per line, trimming whitespace and skipping
// blanks and # comments.
func readQueries(path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var queries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		queries = append(queries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("input %s contains no queries", path)
	}
	return queries, nil
}

func printSummary(w io.Writer, stats *batchStats, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Batch complete")

	totalOffers := int64(0)
	if processed, ok := metrics["processed_offers"].(int64); ok {
		totalOffers = processed
	}

	fmt.Fprintf(w, "  Queries:       %d\n", stats.queries)
	fmt.Fprintf(w, "  Failed:        %d\n", stats.failed.Load())
	fmt.Fprintf(w, "  ISBN-10 conv.: %d\n", stats.converted.Load())
	fmt.Fprintf(w, "  Offers:        %d\n", totalOffers)
	fmt.Fprintf(w, "  Requests:      %d\n", stats.requests.Load())
	fmt.Fprintf(w, "  Retries:       %d\n", stats.retries.Load())
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(w, separator)
}
