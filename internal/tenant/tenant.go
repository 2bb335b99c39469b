// Package tenant carries the ambient tenant identity on the context.
// Every store read and write derives its tenant scope from here and
// nowhere else; no query parameter sourced from processed content can
// override it.
package tenant

import (
	"context"

	"github.com/rotisserie/eris"
)

type ctxKey struct{}

// ErrMissing is returned when an operation requires a tenant scope and
// the context carries none.
var ErrMissing = eris.New("tenant: no tenant in context")

// WithID returns a context scoped to the given tenant.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// FromContext extracts the tenant id, or ErrMissing when absent.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", ErrMissing
	}
	return id, nil
}

// IsolationError marks a detected cross-tenant read or write. It is always
// fatal to the job and alert-logged, never silently recovered.
type IsolationError struct {
	Want string
	Got  string
	Op   string
}

func (e *IsolationError) Error() string {
	return "tenant: isolation violation in " + e.Op + ": expected " + e.Want + ", got " + e.Got
}

// Guard returns an IsolationError when a row's tenant id does not match the
// ambient scope.
func Guard(op, want, got string) error {
	if want != got {
		return &IsolationError{Want: want, Got: got, Op: op}
	}
	return nil
}
