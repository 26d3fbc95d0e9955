package device

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Hub is the bridge side of the device channel. A single device connects to
// it over a websocket; messages are written as appmessage envelopes and
// resolved by the device's ack or nack envelope carrying the same id.
type Hub struct {
	upgrader   websocket.Upgrader
	ackTimeout time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]*pendingSend
}

type pendingSend struct {
	conn   *websocket.Conn
	onAck  func()
	onFail func(error)
	timer  *time.Timer
}

// NewHub creates a Hub. If ackTimeout is <= 0, it defaults to 10s.
func NewHub(ackTimeout time.Duration) *Hub {
	if ackTimeout <= 0 {
		ackTimeout = 10 * time.Second
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ackTimeout: ackTimeout,
		logger:     slog.Default(),
		pending:    make(map[string]*pendingSend),
	}
}

// Connected reports whether a device is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// ServeHTTP upgrades the request and serves the device until it disconnects.
// A new device connection replaces the previous one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("device upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	old := h.conn
	h.conn = conn
	h.mu.Unlock()
	if old != nil {
		h.logger.Info("replacing connected device", "remote", old.RemoteAddr().String())
		old.Close()
	}
	h.logger.Info("device connected", "remote", conn.RemoteAddr().String())

	h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.detach(conn)
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("device read ended", "error", err)
			}
			return
		}
		switch env.Type {
		case TypeAck:
			h.resolve(env.ID, nil)
		case TypeNack:
			msg := env.Error
			if msg == "" {
				msg = "rejected by device"
			}
			h.resolve(env.ID, errors.New(msg))
		default:
			h.logger.Warn("unexpected envelope from device", "type", env.Type, "id", env.ID)
		}
	}
}

func (h *Hub) detach(conn *websocket.Conn) {
	conn.Close()

	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	var orphaned []string
	for id, p := range h.pending {
		if p.conn == conn {
			orphaned = append(orphaned, id)
		}
	}
	h.mu.Unlock()

	for _, id := range orphaned {
		h.resolve(id, ErrDisconnected)
	}
	h.logger.Info("device disconnected", "remote", conn.RemoteAddr().String())
}

// Send writes msg to the connected device. The outcome is reported through
// onAck or onFail; ErrNoDevice and write errors are reported the same way.
func (h *Hub) Send(msg Message, onAck func(), onFail func(error)) {
	h.mu.Lock()
	conn := h.conn
	if conn == nil {
		h.mu.Unlock()
		go onFail(ErrNoDevice)
		return
	}
	p := &pendingSend{conn: conn, onAck: onAck, onFail: onFail}
	p.timer = time.AfterFunc(h.ackTimeout, func() { h.resolve(msg.ID, ErrTimeout) })
	h.pending[msg.ID] = p
	h.mu.Unlock()

	env := Envelope{ID: msg.ID, Type: TypeAppMessage, Payload: msg.Payload}

	h.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(env)
	h.writeMu.Unlock()
	if err != nil {
		go h.resolve(msg.ID, err)
	}
}

// resolve completes a pending send once; later outcomes for the same id are
// ignored.
func (h *Hub) resolve(id string, err error) {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	p.timer.Stop()
	if err != nil {
		p.onFail(err)
		return
	}
	p.onAck()
}
