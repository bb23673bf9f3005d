package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/internal/trace"
	"github.com/yabot-dev/yabot/pkg/types"
)

type memTracer struct {
	mu      sync.Mutex
	records []map[string]any
	events  []string
}

func (m *memTracer) Record(event string, tc trace.Context, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	m.records = append(m.records, data)
	return nil
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Timeout: time.Second}
}

func TestRetrying_RecoversWithinBound(t *testing.T) {
	backend := NewScripted(Fail("overloaded"), Fail("overloaded"), Text("done"))
	tracer := &memTracer{}

	reply, err := WithRetry(backend, fastPolicy(2), tracer).Send(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Content)
	assert.Len(t, backend.Requests(), 3)
	assert.Equal(t, []string{trace.EventModelRetry, trace.EventModelRetry}, tracer.events)
	assert.Equal(t, 1, tracer.records[0]["attempt"])
	assert.Equal(t, 2, tracer.records[1]["attempt"])
}

func TestRetrying_GivesUpAfterBound(t *testing.T) {
	backend := NewScripted(Fail("a"), Fail("b"), Fail("c"), Text("never"))

	_, err := WithRetry(backend, fastPolicy(2), nil).Send(context.Background(), Request{})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Len(t, backend.Requests(), 3)
}

func TestRetrying_ZeroDisables(t *testing.T) {
	backend := NewScripted(Fail("a"), Text("never"))

	_, err := WithRetry(backend, fastPolicy(0), nil).Send(context.Background(), Request{})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Len(t, backend.Requests(), 1)
}

func TestRetrying_DoesNotRetryOtherErrors(t *testing.T) {
	backend := NewScripted(Step{Err: errors.New("bad request")}, Text("never"))

	_, err := WithRetry(backend, fastPolicy(2), nil).Send(context.Background(), Request{})
	assert.EqualError(t, err, "bad request")
	assert.Len(t, backend.Requests(), 1)
}

func TestRetrying_Cancellation(t *testing.T) {
	backend := NewScripted(Hang())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-backend.Started()
		cancel()
	}()

	_, err := WithRetry(backend, fastPolicy(2), nil).Send(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, backend.Requests(), 1)
}

func TestRetrying_AbandonsUncooperativeBackend(t *testing.T) {
	backend := NewScripted(Step{Delay: 5 * time.Second, IgnoreCancel: true, Reply: Reply{Content: "late"}})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-backend.Started()
		cancel()
	}()

	start := time.Now()
	_, err := WithRetry(backend, fastPolicy(0), nil).Send(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrying_AttemptTimeoutIsUnavailable(t *testing.T) {
	backend := NewScripted(Hang(), Text("second try"))
	policy := fastPolicy(1)
	policy.Timeout = 20 * time.Millisecond

	reply, err := WithRetry(backend, policy, nil).Send(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "second try", reply.Content)
}

func TestPolicyFromConfig(t *testing.T) {
	zero := 0
	p := PolicyFromConfig(types.RetryConfig{MaxRetries: &zero, InitialInterval: 10})
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, p.InitialInterval)
	assert.Equal(t, DefaultRetryPolicy.MaxInterval, p.MaxInterval)

	assert.Equal(t, DefaultRetryPolicy, PolicyFromConfig(types.RetryConfig{}))
}
