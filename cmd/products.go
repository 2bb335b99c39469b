package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-engine/internal/store"
)

var (
	productsQuery string
	productsLimit int
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Search the consolidated catalog",
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

		products, err := e.Store.ListProducts(ctx, store.ProductFilter{
			Query: productsQuery,
			Limit: productsLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(products)
	},
}

var patternsCmd = &cobra.Command{
	Use:   "patterns <origin>",
	Short: "List learned extraction patterns for an origin",
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

		patterns, err := e.Store.ListPatterns(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(patterns)
	},
}

func init() {
	productsCmd.Flags().StringVar(&productsQuery, "query", "", "match against name, sku or brand")
	productsCmd.Flags().IntVar(&productsLimit, "limit", 50, "maximum products to list")
	rootCmd.AddCommand(productsCmd, patternsCmd)
}
