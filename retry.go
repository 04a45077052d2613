package ramify

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/petrijr/ramify/pkg/api"
)

// RetryConflict runs f, retrying with exponential backoff while it fails
// with ErrConcurrencyConflict (which includes ErrInstanceLocked). Useful
// around ResumeWorkflow when several triggers may race for one instance:
//
//	inst, err := ramify.RetryConflict(ctx, 5, func(ctx context.Context) (*ramify.WorkflowInstance, error) {
//	    return eng.ResumeWorkflow(ctx, id, "wait", payload)
//	})
func RetryConflict[T any](ctx context.Context, maxRetries uint64, f func(context.Context) (T, error)) (T, error) {
	var out T
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(50*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		out, err = f(ctx)
		if errors.Is(err, api.ErrConcurrencyConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	return out, err
}
