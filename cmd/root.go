package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/tenant"
)

var (
	cfg      *config.Config
	tenantID string
)

var rootCmd = &cobra.Command{
	Use:   "catalogd",
	Short: "Catalog extraction and consolidation engine",
	Long:  "Extracts product data from web pages, scanned documents and supplier feeds, normalizes it, and consolidates it into a deduplicated per-tenant catalog.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// tenantCtx scopes a command's context to the --tenant flag. Every store
// access requires the scope, so commands fail fast without it.
func tenantCtx(ctx context.Context) (context.Context, error) {
	if tenantID == "" {
		return nil, tenant.ErrMissing
	}
	return tenant.WithID(ctx, tenantID), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id (required for all data commands)")
}
