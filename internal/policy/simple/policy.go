// Package simple implements the pass-through pacing policy used when
// rate limiting is disabled.
package simple

import "context"

// Policy admits every request immediately. It still observes context
// cancellation so a shutting-down crawl does not sneak one more fetch out.
type Policy struct{}

// New creates the pass-through policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns as soon as the context allows.
func (Policy) Wait(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
