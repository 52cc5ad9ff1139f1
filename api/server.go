package api

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/cccoolll/agent-lens/modules"
)

// Server is an API bound to a listening address.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds a Server that exposes server's operations at addr.
func NewServer(addr string, server modules.TileServer) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	api := NewAPI(server)
	return &Server{
		httpServer: &http.Server{Handler: api.Handler},
		listener:   l,
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks, handling requests until the listener is closed (via Close
// or a caught interrupt signal).
func (s *Server) Serve() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		s.listener.Close()
	}()

	err := s.httpServer.Serve(s.listener)
	if err != nil && !strings.HasSuffix(err.Error(), "use of closed network connection") && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down the listener, causing Serve to return.
func (s *Server) Close() error {
	return s.listener.Close()
}
