package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/agentica-ai/knowledgebase/internal/core"
)

func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	var waits []time.Duration
	p := DefaultRetryPolicy().WithSleep(recordSleeps(&waits))

	calls := 0
	out, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 Service Unavailable: model is overloaded")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	require.Len(t, waits, 2)
	assert.GreaterOrEqual(t, waits[0], time.Second)
	assert.Less(t, waits[0], 2*time.Second)
	assert.GreaterOrEqual(t, waits[1], 2*time.Second)
	assert.Less(t, waits[1], 3*time.Second)
}

func TestRetryNonRetryableFailsImmediately(t *testing.T) {
	var waits []time.Duration
	p := DefaultRetryPolicy().WithSleep(recordSleeps(&waits))

	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("400 bad request")
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrAIOverloaded)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestRetryExhausted(t *testing.T) {
	var waits []time.Duration
	p := DefaultRetryPolicy().WithSleep(recordSleeps(&waits))

	calls := 0
	_, err := Retry(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("429 Too Many Requests")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.ErrorIs(t, err, core.ErrAIOverloaded)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2)
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := DefaultRetryPolicy()
	p.BaseDelay = time.Hour

	calls := 0
	_, err := Retry(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("overloaded")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDelaySchedule(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 503 text", errors.New("googleapi: Error 503:"), true},
		{"overloaded", errors.New("The model is overloaded. Please try again later."), true},
		{"service unavailable", errors.New("Service Unavailable"), true},
		{"grpc unavailable", errors.New("rpc error: code = Unavailable desc = backend"), true},
		{"googleapi 429", &googleapi.Error{Code: 429}, true},
		{"googleapi 400", &googleapi.Error{Code: 400, Message: "bad request"}, false},
		{"bad request", errors.New("400 bad request"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestRetryMarksTransientFailureOnce(t *testing.T) {
	gerr := &googleapi.Error{Code: 503, Message: "model is overloaded"}
	_, err := Retry(context.Background(), NoRetry(), func(context.Context) (int, error) {
		return 0, fmt.Errorf("%w: %w", core.ErrAIOverloaded, gerr)
	})

	require.ErrorIs(t, err, core.ErrAIOverloaded)
	var target *googleapi.Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 1, strings.Count(err.Error(), core.ErrAIOverloaded.Error()))

	_, err = Retry(context.Background(), NoRetry(), func(context.Context) (int, error) {
		return 0, gerr
	})
	assert.ErrorIs(t, err, core.ErrAIOverloaded)
}
