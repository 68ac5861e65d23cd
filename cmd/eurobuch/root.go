package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-eurobuch/config"
	"github.com/aluiziolira/go-eurobuch/search"
	"github.com/aluiziolira/go-eurobuch/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app carries state shared by every command.
type app struct {
	cfg        *config.Config
	configPath string
	verbose    bool

	limit    int
	host     string
	clientIP string
	timeout  time.Duration

	// transport replaces the HTTP transport of new clients when set.
	transport http.RoundTripper
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eurobuch",
		Short: "Find the cheapest book offers across dealers on eurobuch",
		Long: `eurobuch queries the eurobuch metasearch API by ISBN, title or author
and lists every dealer offer ranked by price plus shipping.

Partner credentials are read from EUROBUCH_PLATFORM and EUROBUCH_PASSWORD,
either from the environment or from a .env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			return a.loadConfig(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	pf.IntVar(&a.limit, "limit", 10, "Maximum results per search (env EUROBUCH_RESULT_LIMIT)")
	pf.StringVar(&a.host, "host", "", "Marketplace host (env EUROBUCH_SEARCH_HOST)")
	pf.StringVar(&a.clientIP, "client-ip", "", "Client IP sent with each query instead of looking it up")
	pf.DurationVar(&a.timeout, "timeout", 0, "Per-request timeout (env EUROBUCH_TIMEOUT)")

	cmd.AddCommand(
		newSearchCmd(a),
		newBatchCmd(a),
		newServeCmd(a),
		newHistoryCmd(a),
		newISBNCmd(a),
	)
	return cmd
}

// loadConfig layers defaults, the YAML file, the environment and finally
// explicitly set flags.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if a.configPath != "" {
		if err := config.LoadFile(a.configPath, cfg); err != nil {
			return err
		}
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("limit") {
		cfg.ResultLimit = a.limit
	}
	if flags.Changed("host") {
		cfg.SearchHost = a.host
	}
	if flags.Changed("client-ip") {
		cfg.ClientIP = a.clientIP
	}
	if flags.Changed("timeout") {
		cfg.Timeout = a.timeout
	}
	if a.verbose {
		cfg.Verbose = true
	}

	logger, level := newLogger(cfg.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) newClient() (*search.Client, error) {
	client, err := search.NewClient(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("initialising search client: %w", err)
	}
	if a.transport != nil {
		client.SetTransport(a.transport)
	}
	return client, nil
}

func (a *app) openHistory() (*store.Store, error) {
	if err := ensureParent(a.cfg.HistoryDB); err != nil {
		return nil, err
	}
	s, err := store.Open(a.cfg.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", a.cfg.HistoryDB, err)
	}
	return s, nil
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}

// newLogger logs to w: text on a terminal, JSON otherwise. stdout is left to
// command output so --json stays machine readable.
func newLogger(verbose bool, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
