package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/kotoba/pkg/failure"
)

type statusErr struct {
	status int
	msg    string
	hint   time.Duration
}

func (e *statusErr) Error() string             { return e.msg }
func (e *statusErr) HTTPStatus() int           { return e.status }
func (e *statusErr) RetryAfter() time.Duration { return e.hint }

// recordSleep collects requested waits without sleeping.
func recordSleep(waits *[]time.Duration) Option {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestDoSucceedsFirstTry(t *testing.T) {
	var waits []time.Duration
	calls := 0

	got, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}, recordSleep(&waits))

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits)
}

func TestDoRetriesRateLimitThenSucceeds(t *testing.T) {
	var waits []time.Duration
	calls := 0

	got, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		if calls <= 3 {
			return 0, &statusErr{status: 429, msg: "rate limited"}
		}
		return 42, nil
	}, recordSleep(&waits))

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waits)
}

func TestDoTransientExhausted(t *testing.T) {
	for _, status := range []int{429, 500, 503} {
		var waits []time.Duration
		calls := 0

		_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
			calls++
			return 0, &statusErr{status: status, msg: "upstream unhappy"}
		}, recordSleep(&waits))

		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, 4, calls, "status %d", status)
		assert.Equal(t, status, rerr.StatusCode)
		assert.Equal(t, "upstream unhappy", rerr.Message)
		assert.Equal(t, 4, rerr.Attempts)
		assert.True(t, rerr.Transient)
	}
}

func TestDoTimeoutMessageRetries(t *testing.T) {
	var waits []time.Duration
	calls := 0

	_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("request timed out")
	}, recordSleep(&waits))

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 500, rerr.StatusCode)
}

func TestDoPermanentNeverRetries(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404} {
		var waits []time.Duration
		calls := 0

		_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
			calls++
			return 0, &statusErr{status: status, msg: "timeout in message does not matter"}
		}, recordSleep(&waits))

		var rerr *Error
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, 1, calls, "status %d", status)
		assert.Empty(t, waits)
		assert.Equal(t, status, rerr.StatusCode)
	}
}

func TestDoUnrecognizedFailureStops(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("")
	}, WithSleep(func(context.Context, time.Duration) error { return nil }))

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 500, rerr.StatusCode)
	assert.Equal(t, defaultMessage, rerr.Message)
}

func TestBackoffCapped(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.MaxRetries = 8

	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, &statusErr{status: 503, msg: "unavailable"}
	}, recordSleep(&waits))

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 32 * time.Second, 32 * time.Second,
	}
	assert.Equal(t, want, waits)
}

func TestBackoffStaysAtCapOverManyRetries(t *testing.T) {
	var waits []time.Duration
	p := DefaultPolicy()
	p.MaxRetries = 50

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, &statusErr{status: 503, msg: "unavailable"}
	}, recordSleep(&waits))

	require.Error(t, err)
	require.Len(t, waits, 50)
	for i, w := range waits[5:] {
		assert.Equal(t, 32*time.Second, w, "wait %d", i+5)
	}
}

func TestBackoffUncappedDoesNotOverflow(t *testing.T) {
	var waits []time.Duration
	p := Policy{MaxRetries: 70, InitialDelay: time.Second, BackoffMultiplier: 2}

	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, &statusErr{status: 503, msg: "unavailable"}
	}, recordSleep(&waits))

	require.Len(t, waits, 70)
	for i := 1; i < len(waits); i++ {
		assert.GreaterOrEqual(t, waits[i], waits[i-1], "wait %d", i)
	}
	assert.Equal(t, time.Duration(math.MaxInt64), waits[69])
}

func TestRetryAfterHintOverridesOnce(t *testing.T) {
	var waits []time.Duration
	calls := 0

	_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 0, &statusErr{status: 429, msg: "slow down", hint: 5 * time.Second}
		}
		return 0, &statusErr{status: 429, msg: "slow down"}
	}, recordSleep(&waits))

	require.Error(t, err)
	// the multiplier still advances while the hint is in effect
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 4 * time.Second}, waits)
}

func TestOnRetry(t *testing.T) {
	var attempts []Attempt
	calls := 0

	_, err := Do(context.Background(), DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &statusErr{status: 500, msg: "boom"}
		}
		return 1, nil
	},
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithOnRetry(func(a Attempt) { attempts = append(attempts, a) }),
	)

	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Number)
	assert.Equal(t, time.Second, attempts[0].Delay)
	assert.Equal(t, 2, attempts[1].Number)
	assert.Equal(t, 2*time.Second, attempts[1].Delay)
	assert.EqualError(t, attempts[1].LastErr, "boom")
}

func TestZeroRetries(t *testing.T) {
	p := DefaultPolicy()
	p.MaxRetries = 0
	calls := 0

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, &statusErr{status: 503, msg: "unavailable"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, DefaultPolicy(), func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, &statusErr{status: 503, msg: "unavailable"}
	})

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sig  failure.Signals
		want Kind
	}{
		{failure.Signals{Status: 429}, Transient},
		{failure.Signals{Status: 500}, Transient},
		{failure.Signals{Status: 503}, Transient},
		{failure.Signals{Status: 502}, Terminal},
		{failure.Signals{Status: 400}, Permanent},
		{failure.Signals{Status: 401}, Permanent},
		{failure.Signals{Status: 403}, Permanent},
		{failure.Signals{Status: 404}, Permanent},
		{failure.Signals{Code: failure.CodeConnReset}, Transient},
		{failure.Signals{Code: failure.CodeConnRefused}, Terminal},
		{failure.Signals{Message: "read: connection reset by peer"}, Transient},
		{failure.Signals{Message: "getaddrinfo ENOTFOUND example.invalid"}, Transient},
		{failure.Signals{Message: "invalid JSON in model response"}, Terminal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.sig), "%+v", tt.sig)
	}
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	p := DefaultPolicy()
	p.MaxRetries = -1
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BackoffMultiplier = 0.5
	assert.Error(t, p.Validate())
}

func TestSleepRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, Sleep(context.Background(), 0))
}
