package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpbridge/internal/mcp/transport"
	"mcpbridge/internal/metrics"
)

var errRefused = &transport.Error{Kind: transport.KindRetryable, Op: "send request", Err: errors.New("connection refused")}

// fakeExchanger answers from fn and records every body it was asked to send.
type fakeExchanger struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, body string, attempt int) ([]string, error)
}

func (f *fakeExchanger) Exchange(ctx context.Context, body string) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, body)
	attempt := 0
	for _, c := range f.calls {
		if c == body {
			attempt++
		}
	}
	f.mu.Unlock()
	return f.fn(ctx, body, attempt)
}

func (f *fakeExchanger) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingSleeper records requested waits and returns immediately.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// blockingSleeper signals when a wait starts and blocks until shutdown.
func blockingSleeper(started chan<- struct{}) Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
}

func queue(bodies ...string) chan transport.Message {
	ch := make(chan transport.Message, len(bodies))
	for _, b := range bodies {
		ch <- transport.NewMessage(b)
	}
	close(ch)
	return ch
}

func drain(ch chan string) []string {
	var lines []string
	for {
		select {
		case l := <-ch:
			lines = append(lines, l)
		default:
			return lines
		}
	}
}

func testPumpConfig() PumpConfig {
	return PumpConfig{Name: "test", InitialBackoff: 500 * time.Millisecond, MaxBackoff: 3 * time.Second}
}

func TestPump_EmitsPayloadsInOrder(t *testing.T) {
	ex := &fakeExchanger{fn: func(_ context.Context, body string, _ int) ([]string, error) {
		if body == "notify" {
			return nil, nil
		}
		return []string{body + "-1", body + "-2"}, nil
	}}
	out := make(chan string, 10)

	p := NewPump(ex, testPumpConfig())
	err := p.Run(context.Background(), queue("a", "notify", "b"), out, make(chan struct{}))
	require.NoError(t, err)

	assert.Equal(t, []string{"a-1", "a-2", "b-1", "b-2"}, drain(out))
	assert.Equal(t, []string{"a", "notify", "b"}, ex.Calls())
}

func TestPump_RetryBackoffSequenceAndReset(t *testing.T) {
	ex := &fakeExchanger{fn: func(_ context.Context, body string, attempt int) ([]string, error) {
		failures := map[string]int{"a": 5, "b": 1}
		if attempt <= failures[body] {
			return nil, errRefused
		}
		return []string{body + "-ok"}, nil
	}}
	sleeper := &recordingSleeper{}
	out := make(chan string, 10)

	p := NewPump(ex, testPumpConfig(), WithSleeper(sleeper.Sleep))
	require.NoError(t, p.Run(context.Background(), queue("a", "b"), out, make(chan struct{})))

	assert.Equal(t, []string{"a-ok", "b-ok"}, drain(out))
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
		500 * time.Millisecond,
	}, sleeper.Waits())
}

func TestPump_RetryLogCarriesBackoff(t *testing.T) {
	ex := &fakeExchanger{fn: func(_ context.Context, body string, attempt int) ([]string, error) {
		if attempt <= 3 {
			return nil, errRefused
		}
		return []string{body}, nil
	}}
	var buf bytes.Buffer
	out := make(chan string, 10)

	p := NewPump(ex, testPumpConfig(),
		WithSleeper((&recordingSleeper{}).Sleep),
		WithPumpLogger(zerolog.New(&buf).Level(zerolog.WarnLevel)),
	)
	in := make(chan transport.Message, 1)
	in <- transport.Message{ID: "m-1", Body: "a"}
	close(in)
	require.NoError(t, p.Run(context.Background(), in, out, make(chan struct{})))

	type retryLine struct {
		MsgID       string  `json:"msg_id"`
		Attempt     int     `json:"attempt"`
		Backoff     float64 `json:"backoff"`
		NextBackoff float64 `json:"next_backoff"`
	}
	var lines []retryLine
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var l retryLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &l))
		lines = append(lines, l)
	}

	// zerolog encodes durations as milliseconds.
	assert.Equal(t, []retryLine{
		{MsgID: "m-1", Attempt: 1, Backoff: 500, NextBackoff: 1000},
		{MsgID: "m-1", Attempt: 2, Backoff: 1000, NextBackoff: 2000},
		{MsgID: "m-1", Attempt: 3, Backoff: 2000, NextBackoff: 3000},
	}, lines)
}

func TestPump_FatalFailureEmitsEnvelopeAndContinues(t *testing.T) {
	ex := &fakeExchanger{fn: func(_ context.Context, body string, _ int) ([]string, error) {
		if body == "bad" {
			return nil, &transport.Error{Kind: transport.KindFatal, Op: "decode response", Err: transport.ErrInvalidUTF8}
		}
		return []string{body + "-ok"}, nil
	}}
	sleeper := &recordingSleeper{}
	out := make(chan string, 10)

	p := NewPump(ex, testPumpConfig(), WithSleeper(sleeper.Sleep))
	require.NoError(t, p.Run(context.Background(), queue("bad", "good"), out, make(chan struct{})))

	assert.Equal(t, []string{
		`{"jsonrpc":"2.0","error":{"code":-32603,"message":"bridge transport error: decode response: invalid UTF-8 in response"}}`,
		"good-ok",
	}, drain(out))
	assert.Equal(t, []string{"bad", "good"}, ex.Calls(), "fatal failures are not retried")
	assert.Empty(t, sleeper.Waits())
}

func TestPump_ShutdownDuringBackoff(t *testing.T) {
	ex := &fakeExchanger{fn: func(context.Context, string, int) ([]string, error) {
		return nil, errRefused
	}}
	started := make(chan struct{}, 1)
	out := make(chan string, 10)
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPump(ex, testPumpConfig(), WithSleeper(blockingSleeper(started)))
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, queue("a", "b", "c"), out, make(chan struct{}))
	}()

	<-started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pump did not stop")
	}

	assert.Equal(t, []string{
		`{"jsonrpc":"2.0","error":{"code":-32603,"message":"bridge shutdown during retry"}}`,
	}, drain(out))
	assert.Equal(t, []string{"a"}, ex.Calls(), "queued messages are not processed after shutdown")
}

func TestPump_DropsMessageAfterShutdown(t *testing.T) {
	ex := &fakeExchanger{fn: func(context.Context, string, int) ([]string, error) {
		return []string{"unexpected"}, nil
	}}
	out := make(chan string, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPump(ex, testPumpConfig())
	require.NoError(t, p.Run(ctx, queue("a", "b"), out, make(chan struct{})))

	assert.Empty(t, drain(out))
	assert.Empty(t, ex.Calls())
}

func TestPump_InFlightExchangeSurvivesShutdown(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)
	ex := &fakeExchanger{fn: func(ctx context.Context, body string, _ int) ([]string, error) {
		close(entered)
		<-release
		ctxErr <- ctx.Err()
		return []string{"late"}, nil
	}}
	out := make(chan string, 10)
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan transport.Message, 1)
	in <- transport.NewMessage("a")

	p := NewPump(ex, testPumpConfig())
	done := make(chan error, 1)
	go func() {
		done <- p.Run(ctx, in, out, make(chan struct{}))
	}()

	<-entered
	cancel()
	close(release)

	require.NoError(t, <-done)
	assert.NoError(t, <-ctxErr, "exchange context must not be cancelled by shutdown")
	assert.Equal(t, []string{"late"}, drain(out))
}

func TestPump_OutputClosed(t *testing.T) {
	ex := &fakeExchanger{fn: func(context.Context, string, int) ([]string, error) {
		return []string{"x"}, nil
	}}
	outDone := make(chan struct{})
	close(outDone)

	p := NewPump(ex, testPumpConfig())
	err := p.Run(context.Background(), queue("a"), make(chan string), outDone)
	assert.ErrorIs(t, err, ErrOutputClosed)
}

func TestPump_Metrics(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	ex := &fakeExchanger{fn: func(_ context.Context, body string, attempt int) ([]string, error) {
		switch {
		case body == "retry" && attempt <= 2:
			return nil, errRefused
		case body == "fatal":
			return nil, &transport.Error{Kind: transport.KindFatal, Op: "read response", Err: errors.New("eio")}
		}
		return []string{"ok"}, nil
	}}
	sleeper := &recordingSleeper{}
	out := make(chan string, 10)

	p := NewPump(ex, testPumpConfig(), WithSleeper(sleeper.Sleep), WithPumpMetrics(m))
	require.NoError(t, p.Run(context.Background(), queue("retry", "fatal"), out, make(chan struct{})))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResponsesEmitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FatalFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CurrentBackoffSecs))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExchangeDuration))
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoff(t *testing.T) {
	b := NewBackoff(500*time.Millisecond, 3*time.Second)

	var got []time.Duration
	for i := 0; i < 5; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		3 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, 500*time.Millisecond, b.Current())
}

func TestBackoff_CeilingBelowInitial(t *testing.T) {
	b := NewBackoff(time.Second, time.Millisecond)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next())
}
