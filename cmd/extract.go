package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-engine/internal/model"
)

var (
	extractFile string
	extractURLs []string
	extractWait bool
)

// submitFile is the YAML shape accepted by --sources.
type submitFile struct {
	Sources []model.SourceDescriptor `yaml:"sources"`
	Config  model.JobConfig          `yaml:"config"`
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Submit an extraction job and run it to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantCtx(cmd.Context())
		if err != nil {
			return err
		}

		var req submitFile
		if extractFile != "" {
			data, err := os.ReadFile(extractFile)
			if err != nil {
				return eris.Wrap(err, "read sources file")
			}
			if err := yaml.Unmarshal(data, &req); err != nil {
				return eris.Wrap(err, "parse sources file")
			}
		}
		for i, u := range extractURLs {
			req.Sources = append(req.Sources, model.SourceDescriptor{
				ID:   fmt.Sprintf("web-%d", i+1),
				Type: model.SourceTypeWeb,
				URL:  u,
			})
		}
		if len(req.Sources) == 0 {
			return eris.New("no sources: pass --sources or --url")
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		j, err := e.Orchestrator.Submit(ctx, req.Sources, req.Config)
		if err != nil {
			return err
		}
		zap.L().Info("job submitted", zap.String("job_id", j.ID))

		if !extractWait {
			fmt.Println(j.ID)
			return nil
		}

		if err := e.Orchestrator.Run(ctx, j.ID); err != nil {
			return err
		}

		final, err := e.Store.GetJob(ctx, j.ID)
		if err != nil {
			return err
		}
		if final != nil && final.State == model.JobStateNeedsReview {
			zap.L().Warn("job suspended for review",
				zap.String("job_id", j.ID),
				zap.String("hint", "catalogd review "+j.ID),
			)
		}

		result, err := e.Orchestrator.Result(ctx, j.ID)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	extractCmd.Flags().StringVar(&extractFile, "sources", "", "YAML file listing sources and job config")
	extractCmd.Flags().StringSliceVar(&extractURLs, "url", nil, "web source URL (repeatable, shorthand for --sources)")
	extractCmd.Flags().BoolVar(&extractWait, "wait", true, "run the job to completion and print the result")
	rootCmd.AddCommand(extractCmd)
}

// trimState renders a job state for table output.
func trimState(s model.JobState) string {
	return strings.ReplaceAll(string(s), "_", " ")
}
