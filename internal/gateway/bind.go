// Package gateway implements the HTTP listener (C10, §4.10): the WebSocket
// upgrade route, the small debug/test routes mirrored under a /push path
// prefix, and the TCP-or-Unix-socket bind selection.
package gateway

import (
	"fmt"
	"net"
	"os"
)

// Bind selects the listener type for Listen. Network is either "tcp" or
// "unix"; for "unix", SocketPermissions (when non-zero) is applied to the
// socket file after bind, before the first Accept (§4.10).
type Bind struct {
	Network           string
	Address           string
	SocketPermissions os.FileMode
}

// Listen opens the configured listener, removing any stale unix socket file
// left behind by a previous, uncleanly-terminated process first.
func Listen(b Bind) (net.Listener, error) {
	if b.Network == "unix" {
		if err := os.Remove(b.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("gateway: removing stale socket %s: %w", b.Address, err)
		}
		l, err := net.Listen("unix", b.Address)
		if err != nil {
			return nil, fmt.Errorf("gateway: binding unix socket %s: %w", b.Address, err)
		}
		if b.SocketPermissions != 0 {
			if err := os.Chmod(b.Address, b.SocketPermissions); err != nil {
				l.Close()
				return nil, fmt.Errorf("gateway: setting permissions on %s: %w", b.Address, err)
			}
		}
		return l, nil
	}

	l, err := net.Listen("tcp", b.Address)
	if err != nil {
		return nil, fmt.Errorf("gateway: binding tcp listener %s: %w", b.Address, err)
	}
	return l, nil
}
