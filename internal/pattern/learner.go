package pattern

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-engine/internal/config"
	"github.com/sells-group/catalog-engine/internal/model"
	"github.com/sells-group/catalog-engine/pkg/recognizer"
)

// Learner detects new patterns from content samples. Selector proposal is
// delegated to the structural-analysis capability; the learner validates
// each proposal locally by test-extracting the sample before anything is
// persisted.
type Learner struct {
	repo       *Repository
	recognizer recognizer.Client
	cfg        config.PatternConfig
}

// NewLearner creates a learner over the repository and capability client.
func NewLearner(repo *Repository, rec recognizer.Client, cfg config.PatternConfig) *Learner {
	return &Learner{repo: repo, recognizer: rec, cfg: cfg}
}

// SampleLimit is how many pages may feed one origin's detection sample
// before detection gives up.
func (l *Learner) SampleLimit() int {
	if l.cfg.SampleSize > 0 {
		return l.cfg.SampleSize
	}
	return 1
}

// Detect proposes selector expressions for the given roles from a content
// sample, validates each against the sample, and persists the ones that
// pass. Returns the promoted patterns.
func (l *Learner) Detect(ctx context.Context, origin, sample string, roles []model.FieldRole) ([]model.SourcePattern, error) {
	roleNames := make([]string, len(roles))
	for i, r := range roles {
		roleNames[i] = string(r)
	}

	proposal, err := l.recognizer.ProposeSelectors(ctx, recognizer.SelectorRequest{
		Origin: origin,
		Sample: clip(sample, 8000),
		Roles:  roleNames,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pattern: propose selectors")
	}

	var promoted []model.SourcePattern
	for role, selector := range proposal.Selectors {
		yield := Validate(selector, sample)
		if yield == 0 {
			zap.L().Debug("selector proposal rejected",
				zap.String("origin", origin),
				zap.String("role", role),
				zap.String("selector", selector),
			)
			continue
		}

		p := model.SourcePattern{
			Origin:     origin,
			Role:       model.FieldRole(role),
			Selector:   selector,
			Confidence: proposal.Confidence,
			CreatedAt:  time.Now().UTC(),
		}
		if err := l.repo.Save(ctx, &p); err != nil {
			return nil, err
		}
		promoted = append(promoted, p)
	}
	return promoted, nil
}

// Validate test-extracts a sample with a selector expression and returns
// the number of non-empty matches. Selectors are regular expressions whose
// first capture group (or whole match) is the field value; an expression
// that does not compile or yields nothing is worth zero.
func Validate(selector, sample string) int {
	re, err := regexp.Compile("(?m)" + selector)
	if err != nil {
		return 0
	}

	matches := re.FindAllStringSubmatch(sample, -1)
	yield := 0
	for _, m := range matches {
		value := m[0]
		if len(m) > 1 {
			value = m[1]
		}
		if strings.TrimSpace(value) != "" {
			yield++
		}
	}
	return yield
}

// Extract applies a stored pattern's selector to content and returns the
// extracted values in document order.
func Extract(p *model.SourcePattern, content string) []string {
	re, err := regexp.Compile("(?m)" + p.Selector)
	if err != nil {
		return nil
	}

	var values []string
	for _, m := range re.FindAllStringSubmatch(content, -1) {
		value := m[0]
		if len(m) > 1 {
			value = m[1]
		}
		if v := strings.TrimSpace(value); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
