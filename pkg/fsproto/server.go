// Package fsproto implements the filesystem RPC: the per-connection
// authentication handshake, operation loop, and the wire opcode table
// of original_source/step2/server.cc (plus the recovered DELUSER
// opcode).
package fsproto

import (
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/s7a9/drumfs/pkg/audit"
	"github.com/s7a9/drumfs/pkg/fscore"
)

// FlushInterval is the number of requests a connection serves between
// automatic cache flushes, matching the original's FLUSH_INTERVAL.
const FlushInterval = 16

// Server accepts filesystem RPC connections and serves them against a
// shared fscore.Core.
type Server struct {
	core  *fscore.Core
	ln    net.Listener
	audit *audit.Recorder
}

// NewServer wraps core behind a listener.
func NewServer(core *fscore.Core, ln net.Listener, rec *audit.Recorder) *Server {
	return &Server{core: core, ln: ln, audit: rec}
}

// Serve accepts connections until the listener is closed, handling
// each on its own goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return err
		}
		sessionID := uuid.New().String()
		logrus.WithFields(logrus.Fields{
			"remote":  conn.RemoteAddr(),
			"session": sessionID,
		}).Info("fsproto: accepted connection")
		d := &Dispatcher{
			conn:      conn,
			core:      s.core,
			audit:     s.audit,
			sessionID: sessionID,
		}
		go d.run()
	}
}
