package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's state, progress and recent events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantCtx(cmd.Context())
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		j, err := e.Store.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		if j == nil {
			return eris.Errorf("job not found: %s", args[0])
		}
		events, err := e.Store.ListEvents(ctx, args[0], 0)
		if err != nil {
			return err
		}

		return printJSON(struct {
			Job    *model.Job            `json:"job"`
			Events []model.ProgressEvent `json:"events"`
		}{j, events})
	},
}

var (
	jobsState string
	jobsLimit int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List extraction jobs for the tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantCtx(cmd.Context())
		if err != nil {
			return err
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		jobs, err := e.Store.ListJobs(ctx, store.JobFilter{
			State: model.JobState(jobsState),
			Limit: jobsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tSOURCES\tPRODUCTS\tCREATED")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\n",
				j.ID,
				trimState(j.State),
				j.Progress.CompletedSources,
				j.Progress.TotalSources,
				j.Progress.ConsolidatedCount,
				j.CreatedAt.Format("2006-01-02 15:04"),
			)
		}
		return w.Flush()
	},
}

func init() {
	jobsCmd.Flags().StringVar(&jobsState, "state", "", "filter by job state")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")
	rootCmd.AddCommand(statusCmd, jobsCmd)
}
