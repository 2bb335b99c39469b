package pattern

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/internal/store"
)

// Seed patterns for marketplace layouts that most tenants extract from.
// Selectors match the markdown the reader service renders for listing
// pages. Seeds are global (tenant id "") and read-only at runtime: the
// first outcome a tenant records against one creates a private copy.
func Seeds() []model.SourcePattern {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(origin string, role model.FieldRole, selector string, confidence float64) model.SourcePattern {
		return model.SourcePattern{
			ID:         "seed-" + origin + "-" + string(role),
			Origin:     origin,
			Role:       role,
			Selector:   selector,
			Confidence: confidence,
			CreatedAt:  created,
		}
	}

	return []model.SourcePattern{
		// MercadoLibre listing pages: item links carry an MLM/MLA item id.
		mk("mercadolibre.com.mx", model.RoleName, `\[([^\]\[]{4,120})\]\(https?://[^)]*(?:MLM|articulo)[^)]*\)`, 0.85),
		mk("mercadolibre.com.mx", model.RoleLink, `\[[^\]]+\]\((https?://[^)]*(?:MLM|articulo)[^)]*)\)`, 0.85),
		mk("mercadolibre.com.mx", model.RolePrice, `\$\s?([0-9][0-9,]*(?:\.[0-9]{2})?)`, 0.8),
		mk("mercadolibre.com.mx", model.RoleImage, `!\[[^\]]*\]\((https?://http2\.mlstatic\.com[^)\s]+)\)`, 0.8),

		// Amazon MX listing pages: product links route through /dp/.
		mk("amazon.com.mx", model.RoleName, `\[([^\]\[]{4,200})\]\(https?://[^)]*/dp/[^)]*\)`, 0.85),
		mk("amazon.com.mx", model.RoleLink, `\[[^\]]+\]\((https?://[^)]*/dp/[^)]*)\)`, 0.85),
		mk("amazon.com.mx", model.RolePrice, `\$\s?([0-9][0-9,]*(?:\.[0-9]{2})?)`, 0.8),
		mk("amazon.com.mx", model.RoleImage, `!\[[^\]]*\]\((https?://m\.media-amazon\.com[^)\s]+)\)`, 0.8),
	}
}

// InstallSeeds writes the seed set. Run at migration time; re-running
// refreshes seeds in place without touching tenant-private rows.
func InstallSeeds(ctx context.Context, st store.Store) error {
	for _, seed := range Seeds() {
		s := seed
		if err := st.UpsertPattern(ctx, &s); err != nil {
			return eris.Wrapf(err, "pattern: install seed %s/%s", s.Origin, s.Role)
		}
	}
	return nil
}
