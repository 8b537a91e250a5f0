package console

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
)

const loopbackHost = "127.0.0.1"

// LocalListener is the console's loopback listener and the addresses derived from it.
type LocalListener struct {
	net.Listener
	Port int
}

// ListenLocal binds 127.0.0.1:port. Port 0 picks a free port.
func ListenLocal(port int) (*LocalListener, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d (must be 0..65535)", port)
	}

	addr := net.JoinHostPort(loopbackHost, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("port %d is already in use", port)
		}
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &LocalListener{Listener: ln, Port: ln.Addr().(*net.TCPAddr).Port}, nil
}

// HostPort is the canonical "127.0.0.1:<port>" the console redirects to.
func (l *LocalListener) HostPort() string {
	return net.JoinHostPort(loopbackHost, strconv.Itoa(l.Port))
}

func (l *LocalListener) BaseURL() string {
	return "http://" + l.HostPort()
}

// Origins lists the browser origins allowed to call the write endpoints.
func (l *LocalListener) Origins() []string {
	return []string{
		l.BaseURL(),
		fmt.Sprintf("http://localhost:%d", l.Port),
	}
}
