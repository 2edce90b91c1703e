package reconnect

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
)

type fakeBroker struct {
	mu          sync.Mutex
	failConnect int
	transports  []*fakeTransport
}

func (b *fakeBroker) dialer() Dialer {
	return func(onLost func(error)) (Transport, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		t := &fakeTransport{broker: b, onLost: onLost, subs: make(map[string]byte)}
		b.transports = append(b.transports, t)
		return t, nil
	}
}

func (b *fakeBroker) dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transports)
}

func (b *fakeBroker) latest() *fakeTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transports[len(b.transports)-1]
}

type fakeTransport struct {
	broker *fakeBroker
	onLost func(error)

	mu        sync.Mutex
	connected bool
	subs      map[string]byte
	failUnsub bool
}

func (t *fakeTransport) Connect(context.Context) error {
	t.broker.mu.Lock()
	fail := t.broker.failConnect > 0
	if fail {
		t.broker.failConnect--
	}
	t.broker.mu.Unlock()
	if fail {
		return errors.New("connection refused")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *fakeTransport) Disconnect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

func (t *fakeTransport) Subscribe(_ context.Context, topic string, qos byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return domain.ErrNotConnected
	}
	t.subs[topic] = qos
	return nil
}

func (t *fakeTransport) Unsubscribe(_ context.Context, topics ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failUnsub {
		return errors.New("unsubscribe rejected")
	}
	for _, topic := range topics {
		delete(t.subs, topic)
	}
	return nil
}

func (t *fakeTransport) Publish(context.Context, string, []byte, byte, bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.New("publish on closed connection")
	}
	return nil
}

func (t *fakeTransport) drop() {
	t.mu.Lock()
	t.connected = false
	t.subs = make(map[string]byte)
	t.mu.Unlock()
	t.onLost(errors.New("EOF"))
}

func (t *fakeTransport) topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	reconnected := make(chan struct{}, 1)
	c := New(OnReconnect(func() { reconnected <- struct{}{} }))

	require.NoError(t, c.Connect(ctx, broker.dialer(), Fixed{Delay: 10 * time.Millisecond}))
	require.NoError(t, c.Subscribe(ctx, 1, "t1", "t2"))

	broker.latest().drop()

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not reconnect")
	}

	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, 2, broker.dials())
	assert.Equal(t, []string{"t1", "t2"}, broker.latest().topics())
	assert.Equal(t, []string{"t1", "t2"}, c.Subscriptions())
	assert.Equal(t, 1, c.Reconnects())
	assert.NoError(t, c.Publish(ctx, "out", []byte("x"), 0, false))
}

func TestInitialConnectFailureIsNotRetried(t *testing.T) {
	broker := &fakeBroker{failConnect: 1}
	c := New()

	err := c.Connect(context.Background(), broker.dialer(), Fixed{Delay: time.Millisecond})
	require.Error(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, broker.dials())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestFailedReconnectIsSingleAttempt(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	c := New()

	require.NoError(t, c.Connect(ctx, broker.dialer(), Fixed{Delay: 5 * time.Millisecond}))
	require.NoError(t, c.Subscribe(ctx, 0, "t1"))

	broker.mu.Lock()
	broker.failConnect = 5
	broker.mu.Unlock()
	broker.latest().drop()

	require.Eventually(t, func() bool { return broker.dials() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	assert.Equal(t, 2, broker.dials())
	assert.Equal(t, StatusDisconnected, c.Status())
	// Bookkeeping survives so a caller-triggered reconnect can replay it.
	assert.Equal(t, []string{"t1"}, c.Subscriptions())
}

func TestBackoffPolicyRetriesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	c := New()

	require.NoError(t, c.Connect(ctx, broker.dialer(), Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond, MaxAttempts: 5}))
	require.NoError(t, c.Subscribe(ctx, 0, "a"))

	broker.mu.Lock()
	broker.failConnect = 2
	broker.mu.Unlock()
	broker.latest().drop()

	require.Eventually(t, func() bool { return c.Status() == StatusConnected && c.Reconnects() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 4, broker.dials())
	assert.Equal(t, []string{"a"}, broker.latest().topics())
}

func TestNoPolicyMeansNoReconnect(t *testing.T) {
	broker := &fakeBroker{}
	c := New()

	require.NoError(t, c.Connect(context.Background(), broker.dialer(), nil))
	broker.latest().drop()

	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, broker.dials())
}

func TestGiveUpIsReportedWhenPolicyRunsOut(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	gaveUp := make(chan error, 1)
	c := New(OnGiveUp(func(err error) { gaveUp <- err }))

	require.NoError(t, c.Connect(ctx, broker.dialer(), Backoff{Initial: time.Millisecond, Max: 2 * time.Millisecond, MaxAttempts: 2}))

	broker.mu.Lock()
	broker.failConnect = 5
	broker.mu.Unlock()
	broker.latest().drop()

	select {
	case err := <-gaveUp:
		assert.ErrorIs(t, err, domain.ErrNotConnected)
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(2 * time.Second):
		t.Fatal("give up was not reported")
	}
	assert.Equal(t, 3, broker.dials())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestGiveUpIsReportedWithoutPolicy(t *testing.T) {
	broker := &fakeBroker{}
	gaveUp := make(chan error, 1)
	c := New(OnGiveUp(func(err error) { gaveUp <- err }))

	require.NoError(t, c.Connect(context.Background(), broker.dialer(), nil))
	broker.latest().drop()

	select {
	case err := <-gaveUp:
		assert.ErrorIs(t, err, domain.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("give up was not reported")
	}
}

func TestGiveUpIsNotReportedAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	gaveUp := make(chan error, 1)
	c := New(OnGiveUp(func(err error) { gaveUp <- err }))

	require.NoError(t, c.Connect(ctx, broker.dialer(), Fixed{Delay: 20 * time.Millisecond}))
	broker.mu.Lock()
	broker.failConnect = 1
	broker.mu.Unlock()
	broker.latest().drop()
	require.NoError(t, c.Disconnect(ctx))

	select {
	case err := <-gaveUp:
		t.Fatalf("unexpected give up: %v", err)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDisconnectClearsBookkeepingEvenIfUnsubscribeFails(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	c := New()

	require.NoError(t, c.Connect(ctx, broker.dialer(), Fixed{Delay: time.Millisecond}))
	require.NoError(t, c.Subscribe(ctx, 0, "t1", "t2"))

	tr := broker.latest()
	tr.mu.Lock()
	tr.failUnsub = true
	tr.mu.Unlock()

	require.NoError(t, c.Disconnect(ctx))
	assert.Empty(t, c.Subscriptions())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.ErrorIs(t, c.Publish(ctx, "x", nil, 0, false), domain.ErrNotConnected)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	c := New()

	require.NoError(t, c.Connect(ctx, broker.dialer(), Fixed{Delay: 50 * time.Millisecond}))
	broker.latest().drop()

	require.Eventually(t, func() bool { return c.Status() == StatusDisconnected }, time.Second, time.Millisecond)
	require.NoError(t, c.Disconnect(ctx))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, broker.dials())
}

func TestConnectTearsDownPreviousConnection(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	c := New()

	require.NoError(t, c.Connect(ctx, broker.dialer(), nil))
	require.NoError(t, c.Subscribe(ctx, 0, "old"))
	first := broker.latest()

	require.NoError(t, c.Connect(ctx, broker.dialer(), nil))

	first.mu.Lock()
	assert.False(t, first.connected)
	first.mu.Unlock()
	assert.Empty(t, c.Subscriptions())

	// A late lost event from the first connection must not trigger anything.
	first.onLost(errors.New("late"))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusConnected, c.Status())
}

func TestSubscribeRequiresConnection(t *testing.T) {
	c := New()
	assert.ErrorIs(t, c.Subscribe(context.Background(), 0, "t"), domain.ErrNotConnected)
	assert.NoError(t, c.Unsubscribe(context.Background(), "t"))
}

func TestPolicies(t *testing.T) {
	wait, ok := Fixed{Delay: time.Second}.Next(1)
	assert.True(t, ok)
	assert.Equal(t, time.Second, wait)
	_, ok = Fixed{Delay: time.Second}.Next(2)
	assert.False(t, ok)

	b := Backoff{Initial: 100 * time.Millisecond, Max: 350 * time.Millisecond, MaxAttempts: 4}
	var waits []time.Duration
	for attempt := 1; ; attempt++ {
		w, ok := b.Next(attempt)
		if !ok {
			break
		}
		waits = append(waits, w)
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}, waits)

	j := Jittered{Policy: Fixed{Delay: time.Second}, Fraction: 0.2}
	for i := 0; i < 20; i++ {
		w, ok := j.Next(1)
		require.True(t, ok)
		assert.InDelta(t, float64(time.Second), float64(w), float64(200*time.Millisecond))
	}

	assert.Nil(t, FixedDelay(0))
	assert.Equal(t, Fixed{Delay: time.Second}, FixedDelay(time.Second))
}
