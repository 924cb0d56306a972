package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-auth/internal/observability"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []Message
	err     error
	blockCh chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, msg Message) error {
	if s.blockCh != nil {
		select {
		case <-s.blockCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *fakeSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

func TestDispatcherDeliversPasswordReset(t *testing.T) {
	sender := &fakeSender{}
	d := NewDispatcher(sender, DispatcherConfig{RatePerMinute: 600}, observability.NopLogger())

	require.NoError(t, d.SendPasswordReset(context.Background(), "alice@example.com", "https://inventory.example.com/reset_password?token=abc"))
	require.NoError(t, d.Close(context.Background()))

	sent := sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, "Reset Password", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "https://inventory.example.com/reset_password?token=abc")
	assert.Contains(t, sent[0].Body, "valid for 10 minutes")
}

func TestDispatcherQueueFull(t *testing.T) {
	sender := &fakeSender{blockCh: make(chan struct{})}
	d := NewDispatcher(sender, DispatcherConfig{QueueSize: 1, RatePerMinute: 600}, observability.NopLogger())

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		err = d.Enqueue(Message{To: "bob@example.com"})
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(sender.blockCh)
	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Enqueue(Message{To: "bob@example.com"}), ErrDispatcherClosed)
}

func TestDispatcherSendFailureDoesNotStopWorker(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	d := NewDispatcher(sender, DispatcherConfig{RatePerMinute: 600}, observability.NopLogger())

	require.NoError(t, d.Enqueue(Message{To: "a@example.com"}))
	require.NoError(t, d.Enqueue(Message{To: "b@example.com"}))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, sender.Sent(), 2)
}

func TestDispatcherCloseHonoursDeadline(t *testing.T) {
	sender := &fakeSender{blockCh: make(chan struct{})}
	d := NewDispatcher(sender, DispatcherConfig{RatePerMinute: 600}, observability.NopLogger())
	require.NoError(t, d.Enqueue(Message{To: "a@example.com"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("worker still running after Close deadline")
	}
	assert.Empty(t, sender.Sent())
}

func TestBuildMessage(t *testing.T) {
	raw := string(buildMessage("noreply@example.com", Message{To: "a@example.com", Subject: "Hi", Body: "line1\nline2"}))
	assert.Contains(t, raw, "From: noreply@example.com\r\n")
	assert.Contains(t, raw, "To: a@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hi\r\n")
	assert.Contains(t, raw, "\r\n\r\nline1\r\nline2")
}
