package nfsfs

import (
	"net"

	"github.com/rs/zerolog"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"github.com/monocore/monocore/pkg/ipld"
)

// Server serves a single content-addressed tree over NFSv3 on a
// listener the caller owns. Authentication is deliberately absent —
// the listener is expected to be bound to a host-only or loopback
// address, same trust boundary as the rest of a single-host deployment.
type Server struct {
	listener net.Listener
	handler  nfs.Handler
	logger   zerolog.Logger
}

// NewServer builds a Server exposing store's tree, listening on ln.
func NewServer(ln net.Listener, store ipld.Store, logger zerolog.Logger) *Server {
	fs := New(store)
	handler := nfshelper.NewNullAuthHandler(fs)
	cached := nfshelper.NewCachingHandler(handler, 1024)
	return &Server{
		listener: ln,
		handler:  cached,
		logger:   logger.With().Str("component", "nfsfs_server").Logger(),
	}
}

// Serve blocks, accepting and serving NFS connections until the
// listener is closed.
func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("nfs server listening")
	return nfs.Serve(s.listener, s.handler)
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
