// Package wsconn implements the per-connection WebSocket state machine
// (C7, §4.7): the auth handshake, the transmit/receive coroutine pair, the
// application-level ping/pong liveness protocol, and the wire encoding of
// push messages.
package wsconn

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextcloud/notify-push/internal/identity"
	"github.com/nextcloud/notify-push/internal/ncclient"
	"github.com/nextcloud/notify-push/internal/npmetrics"
	"github.com/nextcloud/notify-push/internal/preauth"
	"github.com/nextcloud/notify-push/internal/registry"
	"github.com/nextcloud/notify-push/internal/reset"
	"github.com/nextcloud/notify-push/internal/sendqueue"
)

const (
	pingInterval = 30 * time.Second
	drainQuantum = 500 * time.Millisecond
)

// errPongMismatch is returned from the pong handler to force the read
// loop to exit when the client's pong payload doesn't match what was sent.
var errPongMismatch = errors.New("wsconn: received wrong pong payload")

// Server holds every dependency a connection handler needs and exposes
// Serve as the entry point for one accepted WebSocket.
type Server struct {
	NC       *ncclient.Client
	PreAuth  *preauth.Store
	Registry *registry.Registry
	Reset    *reset.Broadcaster

	MaxDebounce       time.Duration
	DebounceEnabled   bool
	MaxConnectionTime time.Duration // 0 disables the cap
}

// Serve drives one WebSocket connection end to end: authenticate,
// subscribe, then run the transmit/receive coroutines until either exits,
// at which point the connection is closed and deregistered (§4.7).
func (s *Server) Serve(ctx context.Context, ws *websocket.Conn, forwardedFor []string) {
	defer ws.Close()

	user, err := s.authenticate(ctx, ws, forwardedFor)
	if err != nil {
		slog.Warn("wsconn: authentication failed", "error", err)
		if err == errAuthTimeout {
			_ = ws.WriteMessage(websocket.TextMessage, []byte("Authentication timeout"))
		} else {
			_ = ws.WriteMessage(websocket.TextMessage, []byte("err: "+err.Error()))
		}
		return
	}

	slog.Info("wsconn: new websocket authenticated", "user", user.String())
	if err := ws.WriteMessage(websocket.TextMessage, []byte("authenticated")); err != nil {
		return
	}

	sub, err := s.Registry.Subscribe(user)
	if err != nil {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		return
	}
	defer s.Registry.Remove(sub)

	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return
	}

	c := &connection{
		server: s,
		ws:     ws,
		user:   user,
		sub:    sub,
	}
	c.run(ctx)
}

// connection holds the per-connection mutable state shared between the
// transmit and receive coroutines.
type connection struct {
	server *Server
	ws     *websocket.Conn
	user   identity.UserID
	sub    *registry.Subscription

	listenFileID atomic.Bool
	expectPong   atomic.Uint64
}

func (c *connection) run(ctx context.Context) {
	c.ws.SetPongHandler(c.handlePong)

	receiveDone := make(chan struct{})
	go func() {
		defer close(receiveDone)
		c.receiveLoop()
	}()

	c.transmitLoop(ctx, receiveDone)
	_ = c.ws.Close()
	<-receiveDone
}

// receiveLoop implements the receive coroutine of §4.7: pongs are handled
// out of band by handlePong; the only frames surfaced here are text/binary
// data messages and the eventual read error that ends the connection.
func (c *connection) receiveLoop() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			logReadError(err)
			return
		}
		if kind == websocket.TextMessage && strings.TrimSpace(string(data)) == "listen notify_file_id" {
			c.listenFileID.Store(true)
		}
	}
}

// logReadError distinguishes benign disconnect variants (logged at debug)
// from everything else (logged at warn), mirroring §4.7's receive error
// handling.
func logReadError(err error) {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	) {
		slog.Debug("wsconn: connection closed", "error", err)
		return
	}
	slog.Warn("wsconn: websocket error", "error", err)
}

// handlePong implements the pong half of the ping/pong liveness protocol
// (§4.7, §9): the expected value is atomically cleared, and a mismatch
// ends the connection by returning an error, which gorilla surfaces as the
// next ReadMessage error. A payload that is not 8 bytes long decodes as 0,
// so an unsolicited pong ends the connection only if it carries a non-zero
// 8-byte payload.
func (c *connection) handlePong(appData string) error {
	expected := c.expectPong.Swap(0)
	actual := decodePingPayload(appData)
	if actual != expected {
		return errPongMismatch
	}
	return nil
}

func decodePingPayload(data string) uint64 {
	if len(data) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64([]byte(data))
}

func encodePingPayload(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// randomNonZeroPing picks a non-zero ping payload; zero is reserved to
// mean "no ping outstanding" (§9).
func randomNonZeroPing() uint64 {
	for {
		if v := rand.Uint64(); v != 0 {
			return v
		}
	}
}

// transmitLoop implements the transmit coroutine of §4.7: it owns the
// debounce queue, races the per-user broadcast against a 500ms drain
// quantum and the process-wide reset signal, and is the connection's sole
// writer.
func (c *connection) transmitLoop(ctx context.Context, receiveDone <-chan struct{}) {
	queue := sendqueue.New(c.server.MaxDebounce, c.server.DebounceEnabled)
	resetCh := c.server.Reset.C()

	connectionStart := time.Now()
	lastSend := connectionStart.Add(-pingInterval)

	for {
		select {
		case <-receiveDone:
			return

		case <-resetCh:
			slog.Debug("wsconn: connection closed by reset request")
			_ = c.ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
			return

		case msg, ok := <-c.sub.C():
			if !ok {
				return
			}
			now := time.Now()
			if out := queue.Push(msg, now); out != nil {
				if !c.send(*out) {
					return
				}
				lastSend = now
			}

		case <-time.After(drainQuantum):
			now := time.Now()
			if c.server.MaxConnectionTime > 0 && now.Sub(connectionStart) > c.server.MaxConnectionTime {
				_ = c.ws.WriteControl(websocket.CloseMessage, nil, time.Now().Add(time.Second))
				return
			}

			for _, msg := range queue.Drain(now, c.server.Registry.ConnectionCount()) {
				if !c.send(msg) {
					return
				}
				lastSend = now
			}

			if now.Sub(lastSend) > pingInterval {
				if !c.ping(now) {
					return
				}
				lastSend = now
			}
		}
	}
}

func (c *connection) send(msg sendqueue.Message) bool {
	text, err := encode(msg, c.listenFileID.Load())
	if err != nil {
		slog.Error("wsconn: failed to encode message", "error", err)
		return true
	}
	npmetrics.MessagesSent.Inc()
	slog.Debug("wsconn: sending message", "user", c.user.String(), "payload", text)
	return c.ws.WriteMessage(websocket.TextMessage, []byte(text)) == nil
}

func (c *connection) ping(now time.Time) bool {
	data := randomNonZeroPing()
	previous := c.expectPong.Swap(data)
	if previous != 0 {
		slog.Info("wsconn: client didn't reply to ping, closing", "user", c.user.String())
		return false
	}
	return c.ws.WriteControl(websocket.PingMessage, encodePingPayload(data), now.Add(time.Second)) == nil
}
