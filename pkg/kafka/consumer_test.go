package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/knowledge-search/pkg/resilience"
	"github.com/segmentio/kafka-go"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[payload]([]byte(`{"reason":"bulk load","count":3}`))
	require.NoError(t, err)
	assert.Equal(t, payload{Reason: "bulk load", Count: 3}, got)

	_, err = DecodeJSON[payload]([]byte(`not json`))
	assert.Error(t, err)
}

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	next      int
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if f.next < len(f.messages) {
		msg := f.messages[f.next]
		f.next++
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeReader) commits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.committed...)
}

var fastRetry = resilience.RetryConfig{
	MaxAttempts:  resilience.RetryForever,
	InitialDelay: time.Millisecond,
	MaxDelay:     2 * time.Millisecond,
}

func TestRunRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{{Offset: 1, Value: []byte("a")}, {Offset: 2, Value: []byte("b")}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string
	handler := func(_ context.Context, _, value []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(value))
		if string(value) == "a" && len(seen) < 3 {
			return errors.New("index unavailable")
		}
		if string(value) == "b" {
			cancel()
		}
		return nil
	}

	require.NoError(t, newConsumer(r, "documents-changed", "test", handler, fastRetry).Run(ctx))
	assert.Equal(t, []string{"a", "a", "a", "b"}, seen, "b waits until a succeeds")
	assert.Equal(t, []int64{1, 2}, r.commits())
	assert.True(t, r.closed)
}

func TestRunSkipsPermanentFailures(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{{Offset: 7}}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	handler := func(context.Context, []byte, []byte) error {
		calls++
		cancel()
		return resilience.Permanent(errors.New("unsupported payload"))
	}

	require.NoError(t, newConsumer(r, "documents-changed", "test", handler, fastRetry).Run(ctx))
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{7}, r.commits())
}

func TestRunLeavesMessageUncommittedOnShutdown(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{{Offset: 3}}}
	ctx, cancel := context.WithCancel(context.Background())

	handler := func(context.Context, []byte, []byte) error {
		cancel()
		return errors.New("store unreachable")
	}

	require.NoError(t, newConsumer(r, "documents-changed", "test", handler, fastRetry).Run(ctx))
	assert.Empty(t, r.commits())
}

func TestRunReturnsWhenRetryBudgetIsSpent(t *testing.T) {
	r := &fakeReader{messages: []kafka.Message{{Offset: 4}, {Offset: 5}}}
	bounded := resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}

	calls := 0
	handler := func(context.Context, []byte, []byte) error {
		calls++
		return errors.New("store unreachable")
	}

	err := newConsumer(r, "documents-changed", "test", handler, bounded).Run(context.Background())
	assert.ErrorContains(t, err, "offset 4")
	assert.Equal(t, 2, calls)
	assert.Empty(t, r.commits())
}
