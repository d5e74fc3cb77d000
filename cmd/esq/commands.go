package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/usestring/esquery/internal/query"
	"github.com/usestring/esquery/internal/schema"
)

func addFileFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("file", "f", "", "YAML query file")
	_ = cmd.MarkFlagRequired("file")
}

func loadFromFlag(cmd *cobra.Command) (*QueryFile, error) {
	path, _ := cmd.Flags().GetString("file")
	return LoadQueryFile(path)
}

func newSearchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a query file and print the matching documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			qf, err := loadFromFlag(cmd)
			if err != nil {
				return err
			}
			jq, _ := cmd.Flags().GetString("jq")
			dedup, _ := cmd.Flags().GetBool("dedup")
			maxResults, _ := cmd.Flags().GetInt("max")
			cursor, _ := cmd.Flags().GetBool("cursor")
			var cp compaction
			cp.maxItems, _ = cmd.Flags().GetInt("max-items")
			cp.maxChars, _ = cmd.Flags().GetInt("max-chars")

			engine := query.NewEngine()
			if jq != "" {
				if err := engine.ValidateExpression(jq); err != nil {
					return err
				}
			}

			db, err := a.open()
			if err != nil {
				return err
			}
			q := qf.Build(db)
			if cursor {
				q.FetchCursor()
			}
			rows, err := q.Select(cmd.Context())
			if err != nil {
				return err
			}

			p := newPrinter(cmd)
			var out any = rows
			if jq != "" {
				res, err := engine.QueryRows(rows, jq, dedup, maxResults)
				if err != nil {
					return err
				}
				for _, e := range res.Errors {
					fmt.Fprintln(cmd.ErrOrStderr(), e)
				}
				out = res.Values
			}
			if cp.enabled() {
				out = cp.apply(toGeneric(out))
			}
			return p.json(out)
		},
	}
	addFileFlag(cmd)
	cmd.Flags().String("jq", "", "jq expression applied to every document")
	cmd.Flags().Bool("dedup", false, "drop repeated jq results")
	cmd.Flags().Int("max", 0, "stop after this many jq results (0 means all)")
	cmd.Flags().Bool("cursor", false, "print raw hits with _index, _id, _score and sort")
	cmd.Flags().Int("max-items", 0, "cut printed arrays to this many items (0 means no limit)")
	cmd.Flags().Int("max-chars", 0, "cut printed strings to this many characters (0 means no limit)")
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the documents matching a query file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			qf, err := loadFromFlag(cmd)
			if err != nil {
				return err
			}
			db, err := a.open()
			if err != nil {
				return err
			}
			n, err := qf.Build(db).Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatInt(n, 10))
			return nil
		},
	}
	addFileFlag(cmd)
	return cmd
}

func newAggregateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate <count|max|min|sum|avg|distinct> <field>",
		Short: "Compute one metric over the documents matching a query file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qf, err := loadFromFlag(cmd)
			if err != nil {
				return err
			}
			db, err := a.open()
			if err != nil {
				return err
			}
			q := qf.Build(db)
			p := newPrinter(cmd)
			if args[0] == "distinct" {
				values, err := q.Distinct(cmd.Context(), args[1])
				if err != nil {
					return err
				}
				return p.json(values)
			}
			v, err := q.Aggregate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return p.json(v)
		},
	}
	addFileFlag(cmd)
	return cmd
}

func newMappingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mapping <table>",
		Short: "Show the field types of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open()
			if err != nil {
				return err
			}
			info, err := db.TableInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd)
			if p.format == "json" {
				return p.json(info.Types)
			}
			rows := make([][]string, 0, len(info.Fields))
			for _, f := range info.Fields {
				rows = append(rows, []string{f, info.Types[f]})
			}
			p.table([]string{"FIELD", "TYPE"}, rows)
			return nil
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Probe every configured node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := a.open()
			if err != nil {
				return err
			}
			statuses, pingErr := db.Ping(cmd.Context())
			p := newPrinter(cmd)
			if p.format == "json" {
				if err := p.json(statuses); err != nil {
					return err
				}
				return pingErr
			}
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				rows = append(rows, []string{strconv.Itoa(s.Slot), s.URL, s.ClusterName, s.Version, s.Error})
			}
			p.table([]string{"SLOT", "URL", "CLUSTER", "VERSION", "ERROR"}, rows)
			return pingErr
		},
	}
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of query files, or check a file against it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("check")
			if path == "" {
				return newPrinter(cmd).json(schema.Reflect(&QueryFile{}))
			}
			if _, err := LoadQueryFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			return nil
		},
	}
	cmd.Flags().String("check", "", "validate this query file instead of printing the schema")
	return cmd
}
