package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-engine/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review <job-id>",
	Short: "Show the review items for a suspended job",
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

		result, err := e.Orchestrator.Result(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(result.Quality)
	},
}

var resumeFile string

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Apply review decisions and resume a suspended job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantCtx(cmd.Context())
		if err != nil {
			return err
		}

		var decisions []model.ReviewDecision
		if resumeFile != "" {
			data, err := os.ReadFile(resumeFile)
			if err != nil {
				return eris.Wrap(err, "read decisions file")
			}
			var file struct {
				Decisions []model.ReviewDecision `yaml:"decisions"`
			}
			if err := yaml.Unmarshal(data, &file); err != nil {
				return eris.Wrap(err, "parse decisions file")
			}
			decisions = file.Decisions
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Orchestrator.Resume(ctx, args[0], decisions); err != nil {
			return err
		}
		zap.L().Info("job resumed", zap.String("job_id", args[0]), zap.Int("decisions", len(decisions)))

		result, err := e.Orchestrator.Result(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job, keeping checkpointed partial results",
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

		return e.Orchestrator.Cancel(ctx, args[0])
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFile, "decisions", "", "YAML file of review decisions")
	rootCmd.AddCommand(reviewCmd, resumeCmd, cancelCmd)
}
