package jobsched

import "context"

type poolKey struct{}

// NewContext returns a copy of ctx carrying p, for subsystems that reach
// the scheduler through a context instead of an explicit argument.
func NewContext(ctx context.Context, p *Pool) context.Context {
	return context.WithValue(ctx, poolKey{}, p)
}

// FromContext returns the pool stored by NewContext, or nil.
func FromContext(ctx context.Context) *Pool {
	p, _ := ctx.Value(poolKey{}).(*Pool)
	return p
}
