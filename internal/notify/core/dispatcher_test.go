package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"conjure/internal/types"
)

// mockNotifier implements types.Notifier with a scripted outcome.
type mockNotifier struct {
	channel  types.ChannelType
	sendErr  error
	called   int
	lastText string
}

func (m *mockNotifier) Type() types.ChannelType { return m.channel }

func (m *mockNotifier) SendNotification(_ context.Context, _ types.NotificationContext, fallbackText string, _ *types.GenerationRecord) error {
	m.called++
	m.lastText = fallbackText
	return m.sendErr
}

// mockDeliveryManager implements DeliveryManager with scripted outcomes.
type mockDeliveryManager struct {
	ensureID      string
	ensureCreated bool
	ensureErr     error

	attemptErr error

	successCalled bool
	successID     string

	failureCalled bool
	failureReason string
	shouldRetry   bool
	failureErr    error

	skippedCalled bool
	skippedReason string
}

func (m *mockDeliveryManager) EnsureDeliveryExists(_ context.Context, genID string, ch types.ChannelType) (string, bool, error) {
	if m.ensureErr != nil {
		return "", false, m.ensureErr
	}
	id := m.ensureID
	if id == "" {
		id = "del_" + genID + "_" + string(ch)
	}
	return id, m.ensureCreated, nil
}

func (m *mockDeliveryManager) RecordAttempt(_ context.Context, _ string) error {
	return m.attemptErr
}

func (m *mockDeliveryManager) MarkSuccess(_ context.Context, id, _ string) error {
	m.successCalled = true
	m.successID = id
	return nil
}

func (m *mockDeliveryManager) MarkFailure(_ context.Context, _ string, reason string) (bool, error) {
	m.failureCalled = true
	m.failureReason = reason
	return m.shouldRetry, m.failureErr
}

func (m *mockDeliveryManager) MarkSkipped(_ context.Context, _ string, reason string) error {
	m.skippedCalled = true
	m.skippedReason = reason
	return nil
}

// mockPublisher captures republished messages.
type mockPublisher struct {
	published []types.DeliveryMessage
	delays    []time.Duration
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, msg types.DeliveryMessage, delay time.Duration) error {
	m.published = append(m.published, msg)
	m.delays = append(m.delays, delay)
	return m.err
}

func newTestDispatcher(n *mockNotifier, dm *mockDeliveryManager, pub *mockPublisher) *Dispatcher {
	return NewDispatcher(
		[]types.Notifier{n},
		dm,
		pub,
		NopMetrics{},
		JobRetryPolicy,
		types.RealClock{},
		types.NopLogger{},
	)
}

func telegramMsg() types.DeliveryMessage {
	return types.DeliveryMessage{
		GenerationID: "gen_1",
		Platform:     types.ChannelTelegram,
		Context:      types.NotificationContext{ChatID: 12345},
		FallbackText: "done",
	}
}

func TestDispatcher_SuccessfulDelivery(t *testing.T) {
	notifier := &mockNotifier{channel: types.ChannelTelegram}
	dm := &mockDeliveryManager{ensureCreated: true}
	pub := &mockPublisher{}
	d := newTestDispatcher(notifier, dm, pub)

	if err := d.Dispatch(context.Background(), telegramMsg()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notifier.called != 1 {
		t.Errorf("expected 1 send, got %d", notifier.called)
	}
	if !dm.successCalled {
		t.Error("expected MarkSuccess")
	}
	if len(pub.published) != 0 {
		t.Error("expected no re-publish on success")
	}
}

func TestDispatcher_UnknownPlatformNotRequeued(t *testing.T) {
	notifier := &mockNotifier{channel: types.ChannelTelegram}
	dm := &mockDeliveryManager{}
	pub := &mockPublisher{}
	d := newTestDispatcher(notifier, dm, pub)

	msg := telegramMsg()
	msg.Platform = types.ChannelType("pager")

	if err := d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notifier.called != 0 {
		t.Error("expected no send for unknown platform")
	}
	if len(pub.published) != 0 {
		t.Error("expected no re-publish for unknown platform")
	}
}

func TestDispatcher_ConfigErrorSkipsWithoutRetry(t *testing.T) {
	notifier := &mockNotifier{
		channel: types.ChannelTelegram,
		sendErr: types.NewAppError(types.ErrCodeConfigMissingDestination, "no chat id", nil),
	}
	dm := &mockDeliveryManager{ensureCreated: true}
	pub := &mockPublisher{}
	d := newTestDispatcher(notifier, dm, pub)

	if err := d.Dispatch(context.Background(), telegramMsg()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dm.skippedCalled {
		t.Error("expected MarkSkipped for config error")
	}
	if dm.failureCalled {
		t.Error("config error must not be marked as failure")
	}
	if len(pub.published) != 0 {
		t.Error("config error must not be re-published")
	}
}

func TestDispatcher_TransientFailureRepublishesWithBackoff(t *testing.T) {
	notifier := &mockNotifier{
		channel: types.ChannelTelegram,
		sendErr: types.NewAppError(types.ErrCodeDeliveryNetwork, "connection reset", nil),
	}
	dm := &mockDeliveryManager{ensureCreated: true, shouldRetry: true}
	pub := &mockPublisher{}
	d := newTestDispatcher(notifier, dm, pub)

	msg := telegramMsg()
	msg.RetryCount = 1

	if err := d.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dm.failureCalled {
		t.Error("expected MarkFailure")
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 re-publish, got %d", len(pub.published))
	}
	wantDelay := CalculateNextRetry(JobRetryPolicy, 1)
	if pub.delays[0] != wantDelay {
		t.Errorf("expected delay %v, got %v", wantDelay, pub.delays[0])
	}
}

func TestDispatcher_ExhaustedFailureNotRepublished(t *testing.T) {
	notifier := &mockNotifier{
		channel: types.ChannelTelegram,
		sendErr: types.NewAppError(types.ErrCodeDeliveryExhausted, "webhook retries exhausted", nil),
	}
	dm := &mockDeliveryManager{ensureCreated: true, shouldRetry: false}
	pub := &mockPublisher{}
	d := newTestDispatcher(notifier, dm, pub)

	if err := d.Dispatch(context.Background(), telegramMsg()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.published) != 0 {
		t.Error("expected no re-publish after retries exhausted")
	}
}

func TestDispatcher_EnsureDeliveryErrorSurfacesToSQS(t *testing.T) {
	notifier := &mockNotifier{channel: types.ChannelTelegram}
	dm := &mockDeliveryManager{ensureErr: errors.New("db down")}
	pub := &mockPublisher{}
	d := newTestDispatcher(notifier, dm, pub)

	if err := d.Dispatch(context.Background(), telegramMsg()); err == nil {
		t.Fatal("expected error so SQS redelivers the message")
	}
	if notifier.called != 0 {
		t.Error("expected no send when delivery record could not be created")
	}
}

func TestDispatcher_RepublishFailureSurfacesToSQS(t *testing.T) {
	notifier := &mockNotifier{
		channel: types.ChannelTelegram,
		sendErr: errors.New("transient"),
	}
	dm := &mockDeliveryManager{ensureCreated: true, shouldRetry: true}
	pub := &mockPublisher{err: errors.New("sqs unavailable")}
	d := newTestDispatcher(notifier, dm, pub)

	if err := d.Dispatch(context.Background(), telegramMsg()); err == nil {
		t.Fatal("expected error when re-publish fails")
	}
}
