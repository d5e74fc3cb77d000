// Command esq runs queries described in YAML files against Elasticsearch.
//
// Connection and logging settings come from the environment (ES_HOSTS,
// ES_DEPLOY, LOG_LEVEL, ...; see internal/config).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/usestring/esquery/internal/config"
	"github.com/usestring/esquery/internal/logging"
	"github.com/usestring/esquery/pkg/conn"
	"github.com/usestring/esquery/pkg/esq"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	cleanup, err := logging.Setup(logging.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setting up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = cleanup() }()

	if err := newRootCmd(&app{cfg: cfg}).ExecuteContext(ctx); err != nil {
		slog.Debug("command failed", "error", err)
		os.Exit(1)
	}
}

// app carries what subcommands share. The DB is opened on first use so
// schema never needs a connection.
type app struct {
	cfg *config.Config
	db  *esq.DB
	reg *prometheus.Registry // Set when --stats is on

	opts []esq.Option
}

func (a *app) open() (*esq.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	opts := append([]esq.Option{esq.WithLogger(slog.Default())}, a.opts...)
	if a.reg != nil {
		opts = append(opts, esq.WithRouterOptions(conn.WithMetrics(conn.NewMetrics(a.reg))))
	}
	db, err := esq.New(a.cfg, opts...)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "esq",
		Short:        "Query Elasticsearch with YAML query files",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if stats, _ := cmd.Flags().GetBool("stats"); stats && a.reg == nil {
				a.reg = prometheus.NewRegistry()
			}
			return checkFormat(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.db == nil {
				return nil
			}
			if a.reg != nil {
				if err := writeStats(cmd.ErrOrStderr(), a.reg); err != nil {
					return err
				}
			}
			return a.db.Close()
		},
	}
	cmd.PersistentFlags().StringP("output", "o", "json", "output format: json or table")
	cmd.PersistentFlags().Bool("stats", false, "print per-verb request counts and latency to stderr")

	cmd.AddCommand(
		newSearchCmd(a),
		newCountCmd(a),
		newAggregateCmd(a),
		newMappingCmd(a),
		newPingCmd(a),
		newSchemaCmd(),
	)
	return cmd
}
