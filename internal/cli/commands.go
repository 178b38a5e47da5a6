// Package cli 冲突复核命令行（conflict-review）
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"wisefido-sync-resolver/internal/metrics"
	"wisefido-sync-resolver/internal/models"
	"wisefido-sync-resolver/internal/policy"
	"wisefido-sync-resolver/internal/review"

	"github.com/spf13/cobra"
)

// ConflictQuerier 冲突查询（review.Service 实现）
type ConflictQuerier interface {
	Unresolved(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error)
	PendingReview(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error)
	History(ctx context.Context, clientName, tableName, recordID string) ([]*models.ConflictRecord, error)
}

// StatsReader 指标读取（metrics.RedisRecorder 实现）
type StatsReader interface {
	Snapshot(ctx context.Context) (*metrics.Snapshot, error)
}

// Backend 命令依赖的后端连接
type Backend struct {
	Conflicts ConflictQuerier
	Stats     StatsReader
	Close     func() error
}

// Opener 按需建立后端连接（policy 子命令不需要连接）
type Opener func(ctx context.Context) (*Backend, error)

type globalFlags struct {
	output string
	client string
	limit  int
}

// NewRootCommand 创建根命令
func NewRootCommand(open Opener) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "conflict-review",
		Short: "Inspect sync conflicts awaiting review",
		Long: `Inspect the conflict audit log written by wisefido-sync-resolver.

Lists open conflicts, manual-review conflicts and per-record history,
exports them to Excel, shows resolution metrics and validates policy files.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "", "output format: table|json (default: table on a terminal)")

	root.AddCommand(
		newListCommand(open, flags, "unresolved", "List conflicts with no resolution recorded", func(q ConflictQuerier) listFunc { return q.Unresolved }),
		newListCommand(open, flags, "pending", "List manual conflicts awaiting an operator", func(q ConflictQuerier) listFunc { return q.PendingReview }),
		newHistoryCommand(open, flags),
		newExportCommand(open, flags),
		newStatsCommand(open, flags),
		newPolicyCommand(flags),
	)
	return root
}

type listFunc func(ctx context.Context, clientName string, limit int) ([]*models.ConflictRecord, error)

func addFilterFlags(cmd *cobra.Command, flags *globalFlags) {
	cmd.Flags().StringVarP(&flags.client, "client", "c", "", "only conflicts from this client")
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", review.DefaultLimit, fmt.Sprintf("maximum records (capped at %d)", review.MaxLimit))
}

func newListCommand(open Opener, flags *globalFlags, use, short string, pick func(ConflictQuerier) listFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := detectFormat(flags.output)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				records, err := pick(b.Conflicts)(cmd.Context(), flags.client, flags.limit)
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), format, records)
			})
		},
	}
	addFilterFlags(cmd, flags)
	return cmd
}

func newHistoryCommand(open Opener, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "history <client> <table> <record_id>",
		Short:   "Show every recorded conflict for one record",
		Args:    cobra.ExactArgs(3),
		Example: "  conflict-review history client-a documents 42",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := detectFormat(flags.output)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				records, err := b.Conflicts.History(cmd.Context(), args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printRecords(cmd.OutOrStdout(), format, records)
			})
		},
	}
}

func newExportCommand(open Opener, flags *globalFlags) *cobra.Command {
	var file string
	var pending bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export conflicts to an .xlsx file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				list := b.Conflicts.Unresolved
				if pending {
					list = b.Conflicts.PendingReview
				}
				records, err := list(cmd.Context(), flags.client, flags.limit)
				if err != nil {
					return err
				}
				data, err := review.GenerateConflictExport(records)
				if err != nil {
					return err
				}
				if err := os.WriteFile(file, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", file, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d conflicts to %s\n", len(records), file)
				return nil
			})
		},
	}
	addFilterFlags(cmd, flags)
	cmd.Flags().StringVarP(&file, "file", "f", "conflicts.xlsx", "output file")
	cmd.Flags().BoolVar(&pending, "pending", false, "export manual conflicts awaiting review instead of unresolved ones")
	return cmd
}

type statsRow struct {
	Client       string `json:"client"`
	Table        string `json:"table"`
	ConflictType string `json:"conflict_type"`
	Strategy     string `json:"strategy"`
	Count        int64  `json:"count"`
}

type latencyRow struct {
	Strategy  string           `json:"strategy"`
	Buckets   map[string]int64 `json:"buckets"`
	Total     int64            `json:"total"`
	AvgMillis float64          `json:"avg_ms"`
}

func newStatsCommand(open Opener, flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show conflict counters and resolution latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := detectFormat(flags.output)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), open, func(b *Backend) error {
				snap, err := b.Stats.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				counters, latency := summarize(snap)
				if format == FormatJSON {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"counters": counters,
						"latency":  latency,
					})
				}
				return printStats(cmd.OutOrStdout(), counters, latency)
			})
		},
	}
}

func newPolicyCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy [path]",
		Short: "Validate a conflict policy file and print the effective table policies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("CONFLICT_CONFIG_PATH")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = "config/conflict_resolution.yaml"
			}
			format, err := detectFormat(flags.output)
			if err != nil {
				return err
			}

			set, err := policy.LoadFile(path)
			if err != nil {
				return err
			}
			return printPolicies(cmd.OutOrStdout(), format, set)
		},
	}
	return cmd
}

func withBackend(ctx context.Context, open Opener, fn func(*Backend) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := open(ctx)
	if err != nil {
		return err
	}
	if b.Close != nil {
		defer b.Close()
	}
	return fn(b)
}

func printRecords(w io.Writer, format Format, records []*models.ConflictRecord) error {
	if format == FormatJSON {
		if records == nil {
			records = []*models.ConflictRecord{}
		}
		return writeJSON(w, records)
	}

	data := tableData{Headers: []string{"Log ID", "Detected At", "Client", "Table", "Record ID", "Type", "Strategy", "Resolved By"}}
	for _, rec := range records {
		resolvedBy := "-"
		if rec.ResolvedBy != nil {
			resolvedBy = *rec.ResolvedBy
		} else if rec.ResolvedAt != nil {
			resolvedBy = "(pending)"
		}
		data.Rows = append(data.Rows, []string{
			strconv.FormatInt(rec.LogID, 10),
			rec.DetectedAt.UTC().Format("2006-01-02 15:04:05"),
			rec.ClientName,
			rec.TableName,
			rec.RecordID,
			string(rec.ConflictType),
			rec.ResolutionStrategy,
			resolvedBy,
		})
	}
	return writeTable(w, data)
}

// summarize 将快照整理为按维度排序的行
func summarize(snap *metrics.Snapshot) ([]statsRow, []latencyRow) {
	counters := make([]statsRow, 0, len(snap.Counters))
	for k, n := range snap.Counters {
		counters = append(counters, statsRow{Client: k.Client, Table: k.Table, ConflictType: k.ConflictType, Strategy: k.Strategy, Count: n})
	}
	sort.Slice(counters, func(i, j int) bool {
		a, b := counters[i], counters[j]
		if a.Client != b.Client {
			return a.Client < b.Client
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		if a.ConflictType != b.ConflictType {
			return a.ConflictType < b.ConflictType
		}
		return a.Strategy < b.Strategy
	})

	latency := make([]latencyRow, 0, len(snap.Latency))
	for strategy, buckets := range snap.Latency {
		row := latencyRow{Strategy: strategy, Buckets: buckets}
		for _, n := range buckets {
			row.Total += n
		}
		if row.Total > 0 {
			row.AvgMillis = float64(snap.LatencySumMicros[strategy]) / float64(row.Total) / 1000
		}
		latency = append(latency, row)
	}
	sort.Slice(latency, func(i, j int) bool { return latency[i].Strategy < latency[j].Strategy })

	return counters, latency
}

func printStats(w io.Writer, counters []statsRow, latency []latencyRow) error {
	data := tableData{Headers: []string{"Client", "Table", "Conflict Type", "Strategy", "Count"}}
	for _, r := range counters {
		data.Rows = append(data.Rows, []string{r.Client, r.Table, r.ConflictType, r.Strategy, strconv.FormatInt(r.Count, 10)})
	}
	if err := writeTable(w, data); err != nil {
		return err
	}
	fmt.Fprintln(w)

	labels := make([]string, 0, len(metrics.Buckets)+1)
	for _, b := range metrics.Buckets {
		labels = append(labels, strconv.FormatFloat(b, 'f', -1, 64))
	}
	labels = append(labels, metrics.InfBucket)

	data = tableData{Headers: append(append([]string{"Strategy"}, prefixAll("<=", labels)...), "Total", "Avg ms")}
	for _, r := range latency {
		row := []string{r.Strategy}
		for _, l := range labels {
			row = append(row, strconv.FormatInt(r.Buckets[l], 10))
		}
		row = append(row, strconv.FormatInt(r.Total, 10), strconv.FormatFloat(r.AvgMillis, 'f', 3, 64))
		data.Rows = append(data.Rows, row)
	}
	return writeTable(w, data)
}

func prefixAll(prefix string, items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = prefix + s + "s"
	}
	return out
}

type policyRow struct {
	Table        string            `json:"table"`
	Strategy     string            `json:"strategy"`
	CompareField string            `json:"compare_field"`
	TieBreaker   string            `json:"tie_breaker"`
	MergeRules   map[string]string `json:"merge_rules,omitempty"`
}

func printPolicies(w io.Writer, format Format, set *policy.Set) error {
	toRow := func(name string, p policy.TablePolicy) policyRow {
		row := policyRow{Table: name, Strategy: p.Strategy.String(), CompareField: p.CompareField, TieBreaker: p.TieBreaker.String()}
		if len(p.MergeRules) > 0 {
			row.MergeRules = make(map[string]string, len(p.MergeRules))
			for _, r := range p.MergeRules {
				row.MergeRules[r.Field] = r.Rule.String()
			}
		}
		return row
	}

	rows := []policyRow{toRow("(default)", set.Default())}
	for _, table := range set.Tables() {
		rows = append(rows, toRow(table, set.StrategyFor(table)))
	}

	if format == FormatJSON {
		return writeJSON(w, rows)
	}

	data := tableData{Headers: []string{"Table", "Strategy", "Compare Field", "Tie Breaker", "Merge Rules"}}
	for _, r := range rows {
		rules := make([]string, 0, len(r.MergeRules))
		for field, rule := range r.MergeRules {
			rules = append(rules, field+"="+rule)
		}
		sort.Strings(rules)
		merged := "-"
		if len(rules) > 0 {
			merged = fmt.Sprint(rules)
		}
		data.Rows = append(data.Rows, []string{r.Table, r.Strategy, r.CompareField, r.TieBreaker, merged})
	}
	return writeTable(w, data)
}
