package app

import (
	"context"

	"github.com/spf13/cobra"

	"opsdiag/internal/config"
	"opsdiag/internal/diagnostic"
	"opsdiag/internal/schedule"
)

func newScheduleCommand(root *rootFlags) *cobra.Command {
	rf := &runFlags{}
	var cronExpr string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the diagnostic on a cron schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadRuntime(root, func(c *config.Config) {
				rf.apply(cmd.Flags(), c)
				if cmd.Flags().Changed("cron") {
					c.Schedule = cronExpr
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if err := cfg.ValidateRun(); err != nil {
				return err
			}

			s, err := schedule.New(cfg.Schedule, cfg.Location, log)
			if err != nil {
				return err
			}
			return s.Run(cmd.Context(), func(ctx context.Context) error {
				_, err := diagnostic.NewRunner(cfg, log).Run(ctx)
				return err
			})
		},
	}
	addRunFlags(cmd.Flags(), rf)
	cmd.Flags().StringVar(&cronExpr, "cron", "0 7 * * 1", "5-field cron expression evaluated in the configured timezone")
	return cmd
}
