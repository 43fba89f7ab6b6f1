package messenger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var (
	// ErrPeerClosed means the connection is gone
	ErrPeerClosed = errors.New("peer closed")
	// ErrSlowPeer means the peer's send buffer is full
	ErrSlowPeer = errors.New("peer send buffer full")
)

// Frame is the JSON unit exchanged with the page shim and popups
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(frameType string, data any) ([]byte, error) {
	f := Frame{Type: frameType}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s frame: %w", frameType, err)
		}
		f.Data = b
	}
	return json.Marshal(f)
}

// Peer is a websocket connection. Writes are queued and sent by a single
// write pump, which also pings; reads extend the deadline on every frame
// and pong.
type Peer struct {
	conn *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

// NewPeer wraps an upgraded connection and starts its write pump
func NewPeer(conn *websocket.Conn) *Peer {
	p := newPeer(conn, sendBuffer)
	go p.writePump()
	return p
}

func newPeer(conn *websocket.Conn, buffer int) *Peer {
	p := &Peer{
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return p
}

// ReadFrame blocks until the next frame arrives
func (p *Peer) ReadFrame() (Frame, error) {
	var f Frame
	if err := p.conn.ReadJSON(&f); err != nil {
		return f, err
	}
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	return f, nil
}

// WriteFrame queues a frame of the given type. It never waits on the
// network; a full buffer yields ErrSlowPeer.
func (p *Peer) WriteFrame(frameType string, data any) error {
	b, err := encodeFrame(frameType, data)
	if err != nil {
		return err
	}
	return p.enqueue(b)
}

func (p *Peer) enqueue(b []byte) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	select {
	case p.send <- b:
		return nil
	default:
		return ErrSlowPeer
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.Close()
	}()

	for {
		select {
		case <-p.done:
			return
		case b := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Done is closed once the peer is closed
func (p *Peer) Done() <-chan struct{} { return p.done }

// Close stops the write pump and closes the connection. Frames still
// queued are discarded. Safe to call more than once.
func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = p.conn.Close()
	})
	return err
}

// Hub fans frames out to every subscribed peer
type Hub struct {
	mu    sync.Mutex
	peers map[*Peer]struct{}
	log   zerolog.Logger
}

// NewHub creates an empty hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{peers: map[*Peer]struct{}{}, log: log}
}

// Add subscribes a peer
func (h *Hub) Add(p *Peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
}

// Remove unsubscribes a peer
func (h *Hub) Remove(p *Peer) {
	h.mu.Lock()
	delete(h.peers, p)
	h.mu.Unlock()
}

// Len returns the number of subscribers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Broadcast queues a frame for every peer without waiting on any of them.
// A peer that is closed or has fallen behind is dropped.
func (h *Hub) Broadcast(kind string, payload any) {
	b, err := encodeFrame(kind, payload)
	if err != nil {
		h.log.Error().Err(err).Str("kind", kind).Msg("dropping unencodable popup frame")
		return
	}

	h.mu.Lock()
	peers := make([]*Peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.enqueue(b); err != nil {
			h.log.Debug().Err(err).Str("kind", kind).Msg("dropping popup subscriber")
			h.Remove(p)
			_ = p.Close()
		}
	}
}
