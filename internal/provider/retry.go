package provider

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

// RetryPolicy bounds retries of model_unavailable failures.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt; zero
	// disables retrying.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// Timeout bounds a single attempt. A backend that ignores cancellation
	// is abandoned when it expires.
	Timeout time.Duration
}

// DefaultRetryPolicy retries twice with exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      2,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	Timeout:         3 * time.Minute,
}

// PolicyFromConfig builds the retry policy from configuration.
func PolicyFromConfig(cfg types.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy
	if cfg.MaxRetries != nil {
		p.MaxRetries = max(*cfg.MaxRetries, 0)
	}
	if cfg.InitialInterval > 0 {
		p.InitialInterval = time.Duration(cfg.InitialInterval) * time.Millisecond
	}
	if cfg.MaxInterval > 0 {
		p.MaxInterval = time.Duration(cfg.MaxInterval) * time.Millisecond
	}
	if cfg.Timeout > 0 {
		p.Timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}
	return p
}

// Retrying decorates a Backend with the retry policy. Every retry is
// recorded in the trace as model_retry.
type Retrying struct {
	next   Backend
	policy RetryPolicy
	tracer trace.Recorder
}

// WithRetry wraps next. A nil tracer discards retry records.
func WithRetry(next Backend, policy RetryPolicy, tracer trace.Recorder) *Retrying {
	if tracer == nil {
		tracer = trace.Nop{}
	}
	return &Retrying{next: next, policy: policy, tracer: tracer}
}

// Send calls the wrapped backend, retrying model_unavailable failures.
func (r *Retrying) Send(ctx context.Context, req Request) (Reply, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialInterval
	eb.MaxInterval = r.policy.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.policy.MaxRetries)), ctx)

	attempt := 0
	var reply Reply
	operation := func() error {
		attempt++
		var err error
		reply, err = r.attempt(ctx, req)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !errors.Is(err, types.ErrModelUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Str("conv_id", req.Trace.ConvID).Str("model", req.Model).
			Int("attempt", attempt).Dur("wait", wait).Msg("model call failed, retrying")
		_ = r.tracer.Record(trace.EventModelRetry, req.Trace, map[string]any{
			"attempt":  attempt,
			"delay_ms": wait.Milliseconds(),
			"error":    err.Error(),
		})
	}

	err := backoff.RetryNotify(operation, b, notify)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, err
	}
	return reply, nil
}

type sendResult struct {
	reply Reply
	err   error
}

// attempt runs one call, abandoning it when ctx or the attempt timeout
// expires even if the backend does not return.
func (r *Retrying) attempt(ctx context.Context, req Request) (Reply, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.policy.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
	}
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		reply, err := r.next.Send(callCtx, req)
		done <- sendResult{reply, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(res.err, context.DeadlineExceeded) {
			return Reply{}, types.WrapError(types.CodeModelUnavailable, res.err, "model call timed out")
		}
		return res.reply, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, types.NewError(types.CodeModelUnavailable, "model call timed out after %v", r.policy.Timeout)
	}
}
