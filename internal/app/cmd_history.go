package app

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"opsdiag/internal/config"
	"opsdiag/internal/domain"
	"opsdiag/internal/storage/sqlite"
)

func newHistoryCommand(root *rootFlags) *cobra.Command {
	var (
		dbPath string
		limit  int
		runID  int64
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored diagnostic runs, or the items of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(root, func(c *config.Config) {
				if cmd.Flags().Changed("db") {
					c.DBPath = dbPath
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if !cfg.HistoryEnabled() {
				return fmt.Errorf("run history is disabled: set db_path, OPSDIAG_DB_PATH or --db")
			}

			db, err := sqlite.InitDB(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open history %s: %w", cfg.DBPath, err)
			}
			defer db.Close()

			out := cmd.OutOrStdout()
			if runID > 0 {
				items, err := sqlite.GetRunItems(db, runID)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, itemsTable(items))
				return nil
			}
			runs, err := sqlite.ListRuns(db, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No diagnostic runs recorded.")
				return nil
			}
			fmt.Fprintln(out, runsTable(runs))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&dbPath, "db", "", "Run history database (default from config)")
	f.IntVar(&limit, "limit", 10, "Most recent runs to list (0 = all)")
	f.Int64Var(&runID, "run-id", 0, "Show the classified items of this run")
	return cmd
}

func runsTable(runs []sqlite.RunRecord) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Run", "Generated", "Mode", "Classifier", "Items", "Days", "Hours/Week", "Repetitive %", "SLA %"})
	for _, r := range runs {
		w.AppendRow(table.Row{
			r.ID,
			r.GeneratedAt.Local().Format("2006-01-02 15:04"),
			r.Mode,
			r.Classifier,
			r.TotalVolume,
			r.PeriodDays,
			fmt.Sprintf("%.1f", r.HoursPerWeek),
			fmt.Sprintf("%.1f", r.RepetitivePct),
			fmt.Sprintf("%.1f", r.SLASensitivePct),
		})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
		{Number: 9, Align: text.AlignRight},
	})
	return w.Render()
}

func itemsTable(items []domain.ClassifiedItem) string {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.AppendHeader(table.Row{"Item", "Subject", "Category", "Nature", "Risk", "Confidence"})
	for _, it := range items {
		c := it.Classification
		w.AppendRow(table.Row{it.Item.ID, it.Item.Subject, c.Category, c.Nature, c.Risk, fmt.Sprintf("%.2f", c.Confidence)})
	}
	w.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, WidthMax: 60},
	})
	return w.Render()
}
