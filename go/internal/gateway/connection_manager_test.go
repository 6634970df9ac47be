package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ordersync/go/internal/ordering"
	"github.com/mcdev12/ordersync/go/internal/protocol"
	"github.com/mcdev12/ordersync/go/internal/transport"
)

// fakeConn is an in-memory transport.Conn. Records pushed to in are read by
// the server; records the server writes land on out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) WriteRecord(b []byte) error {
	select {
	case <-f.closed:
		return transport.ErrClosed
	default:
	}
	cp := append([]byte(nil), b...)
	select {
	case f.out <- cp:
		return nil
	case <-f.closed:
		return transport.ErrClosed
	}
}

func (f *fakeConn) ReadRecord(poll time.Duration) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, transport.ErrClosed
	case <-time.After(poll):
		return nil, transport.ErrTimeout
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake" }

func (f *fakeConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	b, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.in <- b
}

func (f *fakeConn) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case b := <-f.out:
		msg, err := protocol.Decode(b)
		if err != nil {
			t.Fatalf("server wrote malformed record %q: %v", b, err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a record from the server")
		return nil
	}
}

func (f *fakeConn) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case b := <-f.out:
		t.Fatalf("unexpected record %q", b)
	case <-time.After(wait):
	}
}

func testConfig() ConnectionConfig {
	config := DefaultConnectionConfig()
	config.PollInterval = 10 * time.Millisecond
	return config
}

func newTestManager(t *testing.T, clock clockwork.Clock) (*ConnectionManager, *ordering.Buffer) {
	t.Helper()
	buffer := ordering.NewBuffer(clock, nil)
	return NewConnectionManager(testConfig(), buffer, clock), buffer
}

// serve runs cm.Serve in the background and returns a channel with its result
func serve(ctx context.Context, cm *ConnectionManager, conn transport.Conn) <-chan error {
	done := make(chan error, 1)
	go func() { done <- cm.Serve(ctx, conn) }()
	return done
}

func waitForPlayers(t *testing.T, cm *ConnectionManager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(cm.Players()) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d players, have %v", n, cm.Players())
}

func waitForPending(t *testing.T, buffer *ordering.Buffer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if buffer.Len() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d pending events, have %d", n, buffer.Len())
}

func TestServeSendsWelcomeFirst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm, _ := newTestManager(t, clockwork.NewFakeClock())
	first, second := newFakeConn(), newFakeConn()
	serve(ctx, cm, first)
	waitForPlayers(t, cm, 1)
	serve(ctx, cm, second)
	waitForPlayers(t, cm, 2)

	if msg := first.next(t); msg != (protocol.Welcome{PlayerID: 1}) {
		t.Errorf("first participant got %#v, want WELCOME 1", msg)
	}
	if msg := second.next(t); msg != (protocol.Welcome{PlayerID: 2}) {
		t.Errorf("second participant got %#v, want WELCOME 2", msg)
	}
}

func TestServeRejectsWhenFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm, _ := newTestManager(t, clockwork.NewFakeClock())
	serve(ctx, cm, newFakeConn())
	serve(ctx, cm, newFakeConn())
	waitForPlayers(t, cm, 2)

	if !cm.Full() {
		t.Fatal("expected registry to be full")
	}

	third := newFakeConn()
	if err := cm.Serve(ctx, third); !errors.Is(err, ErrServerFull) {
		t.Fatalf("expected ErrServerFull, got %v", err)
	}
	select {
	case <-third.closed:
	default:
		t.Error("rejected connection was not closed")
	}
	if got := cm.Players(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("registry changed after rejection: %v", got)
	}
}

func TestPlayerIDsAreNotReused(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm, _ := newTestManager(t, clockwork.NewFakeClock())
	first := newFakeConn()
	done := serve(ctx, cm, first)
	waitForPlayers(t, cm, 1)
	first.next(t)

	first.Close()
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	waitForPlayers(t, cm, 0)

	second := newFakeConn()
	serve(ctx, cm, second)
	if msg := second.next(t); msg != (protocol.Welcome{PlayerID: 2}) {
		t.Errorf("got %#v, want WELCOME 2", msg)
	}
}

func TestTimeRequestIsAnsweredWithReferenceTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	cm, _ := newTestManager(t, clock)
	conn := newFakeConn()
	serve(ctx, cm, conn)
	conn.next(t) // WELCOME

	conn.send(t, protocol.TimeRequest{})
	msg := conn.next(t)
	resp, ok := msg.(protocol.TimeResponse)
	if !ok {
		t.Fatalf("expected TIME_RESPONSE, got %#v", msg)
	}
	if resp.ServerTime != 1_700_000_000 {
		t.Errorf("server_time = %v, want 1700000000", resp.ServerTime)
	}
}

func TestActionsAreIngestedWithPlayerID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.Unix(100, 0))
	cm, buffer := newTestManager(t, clock)
	conn := newFakeConn()
	serve(ctx, cm, conn)
	conn.next(t)

	conn.send(t, protocol.Action{Action: "jump", Timestamp: 42.5})
	waitForPending(t, buffer, 1)

	batch := buffer.Drain()
	want := ordering.ActionEvent{
		ID:                batch[0].ID,
		PlayerID:          1,
		Action:            "jump",
		ClientTimestamp:   42.5,
		ServerReceiveTime: 100,
	}
	if batch[0] != want {
		t.Errorf("got %+v, want %+v", batch[0], want)
	}
}

func TestMalformedRecordIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm, buffer := newTestManager(t, clockwork.NewFakeClock())
	conn := newFakeConn()
	serve(ctx, cm, conn)
	conn.next(t)

	conn.in <- []byte(`{"type":"ACTION","action":"jump"}`)
	conn.in <- []byte(`not json`)
	conn.send(t, protocol.TimeRequest{})

	// the connection survives and still answers
	if _, ok := conn.next(t).(protocol.TimeResponse); !ok {
		t.Fatal("expected TIME_RESPONSE after malformed records")
	}
	if n := buffer.Len(); n != 0 {
		t.Errorf("malformed records produced %d events", n)
	}
}

func TestDeliverBroadcastsBatchInOrderToEveryone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	cm, buffer := newTestManager(t, clock)
	a, b := newFakeConn(), newFakeConn()
	serve(ctx, cm, a)
	waitForPlayers(t, cm, 1)
	serve(ctx, cm, b)
	waitForPlayers(t, cm, 2)
	a.next(t)
	b.next(t)

	b.send(t, protocol.Action{Action: "B", Timestamp: 100.0})
	waitForPending(t, buffer, 1)
	clock.Advance(10 * time.Millisecond)
	a.send(t, protocol.Action{Action: "A", Timestamp: 100.0})
	waitForPending(t, buffer, 2)
	a.send(t, protocol.Action{Action: "early", Timestamp: 99.0})
	waitForPending(t, buffer, 3)

	scheduler := ordering.NewScheduler(buffer, clock, 0, nil, cm)
	if n := scheduler.FlushOnce(ctx); n != 3 {
		t.Fatalf("flushed %d events, want 3", n)
	}

	want := []protocol.ActionBroadcast{
		{PlayerID: 1, Action: "early", Timestamp: 99.0},
		{PlayerID: 2, Action: "B", Timestamp: 100.0},
		{PlayerID: 1, Action: "A", Timestamp: 100.0},
	}
	for _, conn := range []*fakeConn{a, b} {
		for i, w := range want {
			if got := conn.next(t); got != w {
				t.Errorf("record %d = %#v, want %#v", i, got, w)
			}
		}
	}
}

func TestDeliverSurvivesDisconnectedParticipant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClock()
	cm, _ := newTestManager(t, clock)
	gone, stays := newFakeConn(), newFakeConn()
	serve(ctx, cm, gone)
	waitForPlayers(t, cm, 1)
	serve(ctx, cm, stays)
	waitForPlayers(t, cm, 2)
	gone.next(t)
	stays.next(t)

	gone.Close()

	batch := []ordering.ActionEvent{
		{PlayerID: 2, Action: "one", ClientTimestamp: 1},
		{PlayerID: 2, Action: "two", ClientTimestamp: 2},
	}
	if err := cm.Deliver(ctx, batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	for _, w := range []string{"one", "two"} {
		got, ok := stays.next(t).(protocol.ActionBroadcast)
		if !ok || got.Action != w {
			t.Errorf("got %#v, want broadcast %q", got, w)
		}
	}
	waitForPlayers(t, cm, 1)
}

func TestDeliverDropsSlowParticipant(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := testConfig()
	config.SendBufferSize = 1
	buffer := ordering.NewBuffer(clockwork.NewFakeClock(), nil)
	cm := NewConnectionManager(config, buffer, clockwork.NewFakeClock())

	// registered directly so no writer drains the queue
	slow, err := cm.registerConnection(newFakeConn())
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	batch := []ordering.ActionEvent{
		{PlayerID: 1, Action: "one", ClientTimestamp: 1},
		{PlayerID: 1, Action: "two", ClientTimestamp: 2},
	}
	if err := cm.Deliver(ctx, batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(cm.Players()) != 0 {
		t.Errorf("slow participant still registered: %v", cm.Players())
	}
	select {
	case <-slow.done:
	default:
		t.Error("slow participant was not closed")
	}
}

func TestWelcomeIsQueuedBeforeBroadcasts(t *testing.T) {
	cm, _ := newTestManager(t, clockwork.NewFakeClock())

	// no writer runs, so the queue shows exactly what was enqueued and when
	c, err := cm.registerConnection(newFakeConn())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	batch := []ordering.ActionEvent{{PlayerID: 1, Action: "early", ClientTimestamp: 1}}
	if err := cm.Deliver(context.Background(), batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	want := []protocol.Message{
		protocol.Welcome{PlayerID: 1},
		protocol.ActionBroadcast{PlayerID: 1, Action: "early", Timestamp: 1},
	}
	for i, w := range want {
		select {
		case data := <-c.Send:
			got, err := protocol.Decode(data)
			if err != nil {
				t.Fatalf("decode queued record %d: %v", i, err)
			}
			if got != w {
				t.Errorf("queued record %d = %#v, want %#v", i, got, w)
			}
		default:
			t.Fatalf("queue has only %d records", i)
		}
	}
}

func TestDeliverWithNoParticipants(t *testing.T) {
	cm, _ := newTestManager(t, clockwork.NewFakeClock())
	batch := []ordering.ActionEvent{{PlayerID: 1, Action: "x"}}
	if err := cm.Deliver(context.Background(), batch); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cm, _ := newTestManager(t, clockwork.NewFakeClock())
	conn := newFakeConn()
	done := serve(ctx, cm, conn)
	waitForPlayers(t, cm, 1)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	waitForPlayers(t, cm, 0)
}
