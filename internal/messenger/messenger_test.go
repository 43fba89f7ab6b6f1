package messenger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greet struct {
	Name string `json:"name"`
}

func newRunningMailbox(t *testing.T, router *Router) *Mailbox {
	t.Helper()
	mb := NewMailbox("test", 8, router, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go mb.Run(ctx)
	t.Cleanup(cancel)
	return mb
}

func TestRouter_DeclinesUnknown(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	resp := r.Dispatch(context.Background(), Envelope{Action: "frobnicate"})

	assert.True(t, resp.Declined)
	assert.ErrorIs(t, resp.Err(), ErrDeclined)
}

func TestRouter_Ping(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	resp := r.Dispatch(context.Background(), Envelope{Action: ActionPing})

	out, err := DecodeResponse[map[string]string](resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestRouter_HandlerError(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	r.Handle("fail", func(context.Context, Envelope) (any, error) { return nil, errors.New("nope") })

	resp := r.Dispatch(context.Background(), Envelope{Action: "fail"})
	assert.False(t, resp.OK)
	assert.EqualError(t, resp.Err(), "nope")
}

func TestMailbox_RequestResponse(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	r.Handle("greet", func(_ context.Context, env Envelope) (any, error) {
		g, err := Decode[greet](env)
		if err != nil {
			return nil, err
		}
		return greet{Name: "hello " + g.Name}, nil
	})
	mb := newRunningMailbox(t, r)

	resp, err := mb.Request(context.Background(), "greet", greet{Name: "drew"})
	require.NoError(t, err)
	out, err := DecodeResponse[greet](resp)
	require.NoError(t, err)
	assert.Equal(t, "hello drew", out.Name)

	resp, err = mb.Request(context.Background(), "unknown", nil)
	require.NoError(t, err)
	assert.True(t, resp.Declined)
}

func TestMailbox_SerializesMessages(t *testing.T) {
	var inFlight, maxInFlight int32
	r := NewRouter(zerolog.Nop())
	r.Handle("work", func(context.Context, Envelope) (any, error) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})
	mb := newRunningMailbox(t, r)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = mb.Request(context.Background(), "work", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestMailbox_ClosedIsNoReceiver(t *testing.T) {
	mb := NewMailbox("closed", 1, NewRouter(zerolog.Nop()), zerolog.Nop())
	mb.Close()

	_, err := mb.Request(context.Background(), ActionPing, nil)
	assert.ErrorIs(t, err, ErrNoReceiver)
	assert.False(t, mb.Post(Envelope{Action: ActionPing}))
}

func TestMailbox_SlowHandlerIsBusy(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	release := make(chan struct{})
	r.Handle("slow", func(context.Context, Envelope) (any, error) {
		<-release
		return nil, nil
	})
	mb := newRunningMailbox(t, r)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mb.Request(ctx, "slow", nil)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestEmitter_NoReceiverIsNotAnError(t *testing.T) {
	var dropped []string
	e := NewEmitter(zerolog.Nop(), func(a string) { dropped = append(dropped, a) })

	ctx := context.Background()
	assert.False(t, e.Emit(ctx, "mentionFound", greet{Name: "x"}))
	assert.Equal(t, []string{"mentionFound"}, dropped)

	mb := NewMailbox("bg", 1, NewRouter(zerolog.Nop()), zerolog.Nop())
	e.Attach(mb)
	assert.True(t, e.Emit(ctx, "mentionFound", nil))

	mb.Close()
	assert.False(t, e.Emit(ctx, "mentionFound", nil), "stopped mailbox drops")

	e.Detach()
	assert.False(t, e.Emit(ctx, "mentionFound", nil))
	assert.Len(t, dropped, 3)
}

func TestEmitter_WaitsForRoomInsteadOfDropping(t *testing.T) {
	var handled atomic.Int32
	r := NewRouter(zerolog.Nop())
	r.Handle("report", func(context.Context, Envelope) (any, error) {
		handled.Add(1)
		return nil, nil
	})
	mb := NewMailbox("bg", 2, r, zerolog.Nop())
	e := NewEmitter(zerolog.Nop(), nil)
	e.Attach(mb)

	// the inbox fills before the loop starts draining it
	sent := make(chan int, 1)
	go func() {
		n := 0
		for i := 0; i < 50; i++ {
			if e.Emit(context.Background(), "report", nil) {
				n++
			}
		}
		sent <- n
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	select {
	case n := <-sent:
		assert.Equal(t, 50, n)
	case <-time.After(2 * time.Second):
		t.Fatal("emitter never finished")
	}
	require.Eventually(t, func() bool { return handled.Load() == 50 }, time.Second, 5*time.Millisecond)
}

func TestEmitter_FullInboxGivesUpWhenContextEnds(t *testing.T) {
	mb := NewMailbox("bg", 1, NewRouter(zerolog.Nop()), zerolog.Nop())
	e := NewEmitter(zerolog.Nop(), nil)
	e.Attach(mb)
	require.True(t, e.Emit(context.Background(), "report", nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, e.Emit(ctx, "report", nil))
}

func TestEmitter_DeliversToRunningMailbox(t *testing.T) {
	got := make(chan string, 1)
	r := NewRouter(zerolog.Nop())
	r.Handle("report", func(_ context.Context, env Envelope) (any, error) {
		g, _ := Decode[greet](env)
		got <- g.Name
		return nil, nil
	})
	mb := newRunningMailbox(t, r)

	e := NewEmitter(zerolog.Nop(), nil)
	e.Attach(mb)
	require.True(t, e.Emit(context.Background(), "report", greet{Name: "drew"}))

	select {
	case name := <-got:
		assert.Equal(t, "drew", name)
	case <-time.After(time.Second):
		t.Fatal("report not delivered")
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Add(NewPeer(conn))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast("notification", greet{Name: "drew"})

	client := NewPeer(conn)
	f, err := client.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "notification", f.Type)
	assert.JSONEq(t, `{"name":"drew"}`, string(f.Data))
}

func TestHub_DropsPeerThatFallsBehind(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns <- conn
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	// no write pump: the single buffered slot is never drained
	stalled := newPeer(<-conns, 1)
	hub.Add(stalled)

	start := time.Now()
	hub.Broadcast("notification", greet{Name: "one"})
	assert.Equal(t, 1, hub.Len())
	hub.Broadcast("notification", greet{Name: "two"})
	assert.Less(t, time.Since(start), time.Second)

	assert.Zero(t, hub.Len())
	select {
	case <-stalled.Done():
	default:
		t.Fatal("stalled peer not closed")
	}
	assert.ErrorIs(t, stalled.WriteFrame("notification", nil), ErrPeerClosed)
}

func TestPeer_WritesQueuedFramesInOrder(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		p := NewPeer(conn)
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, p.WriteFrame("greet", greet{Name: name}))
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	client := NewPeer(conn)
	for _, want := range []string{"a", "b", "c"} {
		f, err := client.ReadFrame()
		require.NoError(t, err)
		g, err := Decode[greet](Envelope{Action: f.Type, Payload: f.Data})
		require.NoError(t, err)
		assert.Equal(t, want, g.Name)
	}
}
