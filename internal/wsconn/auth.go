package wsconn

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextcloud/notify-push/internal/identity"
)

// authTimeout bounds the whole handshake: two text frames in, one out
// (§4.7, §5).
const authTimeout = 15 * time.Second

// errAuthTimeout reports that the handshake frames did not arrive in time;
// Serve answers it with the text frame "Authentication timeout".
var errAuthTimeout = errors.New("authentication timeout")

// authenticate reads the username and password frames and resolves them to
// a user identity, preferring a single-use pre-auth token over a backend
// credential check (§4.7 step 1, §4.9).
func (s *Server) authenticate(ctx context.Context, ws *websocket.Conn, forwardedFor []string) (identity.UserID, error) {
	deadline := time.Now().Add(authTimeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := ws.SetReadDeadline(deadline); err != nil {
		return identity.UserID{}, err
	}

	username, err := readAuthFrame(ws)
	if err != nil {
		return identity.UserID{}, err
	}
	password, err := readAuthFrame(ws)
	if err != nil {
		return identity.UserID{}, err
	}

	if user, ok := s.PreAuth.Take(password, time.Now()); ok {
		return user, nil
	}

	if username == "" {
		return identity.UserID{}, errInvalidCredentials
	}
	return s.NC.Verify(ctx, username, password, forwardedFor)
}

var errInvalidCredentials = errors.New("invalid credentials")

func readAuthFrame(ws *websocket.Conn) (string, error) {
	kind, data, err := ws.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return "", errAuthTimeout
		}
		return "", err
	}
	if kind != websocket.TextMessage {
		return "", errors.New("invalid authentication message")
	}
	return string(data), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
