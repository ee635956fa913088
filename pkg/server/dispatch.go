package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// readChunkSize is the size of one transport read. It has no relation to
// message boundaries; the per-session Decoder reassembles frames.
const readChunkSize = 4096

type eventKind int

const (
	eventAccept eventKind = iota // conn accepted, no session yet
	eventData                    // bytes read from a session
	eventClosed                  // read side of a session ended
)

type event struct {
	kind eventKind
	id   model.SessionID
	conn net.Conn
	data []byte
	err  error
}

// Serve runs the dispatch loop on ln until ctx is cancelled or Shutdown is
// called. On return the listener and every live connection are closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.acceptLoop(ctx, ln)
	s.log.Info("relay listening", "addr", ln.Addr().String())

	for {
		select {
		case <-ctx.Done():
			s.closeAll(ln)
			return nil
		case <-s.ctx.Done():
			cancel()
			s.closeAll(ln)
			return nil
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

// post hands an event to the loop. It reports false once the loop is gone.
func (s *Server) post(ctx context.Context, ev event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept error", "err", err)
			continue
		}
		go s.handshake(ctx, conn)
	}
}

// handshake completes the TLS handshake before the connection is handed to
// the loop. A tls.Conn takes its handshake lock on the first Read or Write, so
// a peer that stalls mid-handshake must never be visible to the loop.
func (s *Server) handshake(ctx context.Context, conn net.Conn) {
	if tc, ok := conn.(*tls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			s.metrics.FailedHandshakes.Add(1)
			s.log.Debug("tls handshake failed", "remote", conn.RemoteAddr().String(), "err", err)
			_ = conn.Close()
			return
		}
	}
	if !s.post(ctx, event{kind: eventAccept, conn: conn}) {
		_ = conn.Close()
	}
}

// readLoop forwards raw chunks from conn to the dispatch loop. It never
// touches session state.
func (s *Server) readLoop(ctx context.Context, id model.SessionID, conn net.Conn) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.post(ctx, event{kind: eventData, id: id, data: chunk}) {
				return
			}
		}
		if err != nil {
			s.post(ctx, event{kind: eventClosed, id: id, err: err})
			return
		}
	}
}

func (s *Server) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case eventAccept:
		s.accept(ctx, ev.conn)
	case eventData:
		s.handleData(ev.id, ev.data)
	case eventClosed:
		if ev.err == nil || errors.Is(ev.err, io.EOF) || errors.Is(ev.err, net.ErrClosed) {
			s.removeSession(ev.id, "client disconnected")
		} else {
			s.removeSession(ev.id, "read error: "+ev.err.Error())
		}
	}
}

func (s *Server) accept(ctx context.Context, conn net.Conn) {
	s.metrics.TotalConnections.Add(1)

	if s.cfg.MaxConnections > 0 && s.sessions.Count() >= s.cfg.MaxConnections {
		s.metrics.RejectedConnections.Add(1)
		s.log.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "reason", protocol.ReasonServerFull)
		// No session exists to remove if the refusal write stalls, so it runs off the loop.
		go s.reject(conn, protocol.ReasonServerFull)
		return
	}

	sess := s.sessions.Add(conn)
	s.metrics.ActiveSessions.Store(int64(s.sessions.Count()))
	s.log.Info("new connection", "session", sess.ID, "remote", sess.RemoteAddr)

	go s.readLoop(ctx, sess.ID, conn)
}

func (s *Server) reject(conn net.Conn, reason string) {
	_ = conn.SetDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_ = protocol.WriteMessage(conn, protocol.ConnectionFailed(reason))
	_ = conn.Close()
}

// handleData decodes every complete message in chunk and dispatches them in
// order. Messages decoded before a framing error are still handled.
func (s *Server) handleData(id model.SessionID, chunk []byte) {
	dec := s.sessions.decoder(id)
	if dec == nil {
		return // removed while the chunk was queued
	}

	msgs, err := dec.Feed(chunk)
	for _, msg := range msgs {
		if _, ok := s.sessions.Get(id); !ok {
			return
		}
		s.dispatch(id, msg)
	}
	if err != nil {
		s.metrics.ProtocolViolations.Add(1)
		s.removeSession(id, "protocol violation: "+err.Error())
	}
}

// dispatch routes one decoded message by its type.
func (s *Server) dispatch(id model.SessionID, msg *protocol.Message) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return
	}
	if !msg.Type.FromClient() {
		s.metrics.ProtocolViolations.Add(1)
		s.removeSession(id, "unexpected message type "+string(msg.Type))
		return
	}

	switch msg.Type {
	case protocol.TypeLogin:
		s.handleLogin(sess, msg)
	case protocol.TypeRegister:
		s.handleRegister(sess, msg)
	case protocol.TypeMessage:
		s.handleChat(sess, msg)
	}
}

func (s *Server) handleLogin(sess *model.Session, msg *protocol.Message) {
	if owner, bound := s.sessions.Owner(msg.Username); bound && owner != sess.ID {
		s.metrics.ConcurrentLogins.Add(1)
		s.log.Info("login refused, already logged in", "session", sess.ID, "user", msg.Username, "owner", owner)
		s.send(sess.ID, protocol.LoginFailed(protocol.ReasonAlreadyLoggedIn))
		return
	}
	if sess.Authenticated() && sess.Username != msg.Username {
		s.metrics.FailedLogins.Add(1)
		s.send(sess.ID, protocol.LoginFailed("already authenticated as "+sess.Username))
		return
	}

	ok, err := s.store.Authenticate(msg.Username, msg.Password)
	if err != nil {
		s.metrics.FailedLogins.Add(1)
		s.log.Error("credential lookup failed", "session", sess.ID, "user", msg.Username, "err", err)
		s.send(sess.ID, protocol.LoginFailed(protocol.ReasonInternalError))
		return
	}
	if !ok {
		s.metrics.FailedLogins.Add(1)
		s.log.Info("login failed", "session", sess.ID, "user", msg.Username)
		s.send(sess.ID, protocol.LoginFailed(protocol.ReasonInvalidCredentials))
		return
	}

	if err := s.sessions.Bind(sess.ID, msg.Username); err != nil {
		s.metrics.FailedLogins.Add(1)
		s.send(sess.ID, protocol.LoginFailed(protocol.ReasonAlreadyLoggedIn))
		return
	}
	s.metrics.SuccessfulLogins.Add(1)
	s.log.Info("user logged in", "session", sess.ID, "user", sess.Username)
	s.send(sess.ID, protocol.LoginSuccess())
}

func (s *Server) handleRegister(sess *model.Session, msg *protocol.Message) {
	created, err := s.store.Register(msg.Username, msg.Password)
	if err != nil {
		s.metrics.FailedRegistrations.Add(1)
		if reason := validationReason(err); reason != "" {
			s.send(sess.ID, protocol.RegisterFailed(reason))
			return
		}
		s.log.Error("registration not persisted", "session", sess.ID, "user", msg.Username, "err", err)
		s.send(sess.ID, protocol.RegisterFailed(protocol.ReasonInternalError))
		return
	}
	if !created {
		s.metrics.FailedRegistrations.Add(1)
		s.log.Info("registration failed, username taken", "session", sess.ID, "user", msg.Username)
		s.send(sess.ID, protocol.RegisterFailed(protocol.ReasonUsernameTaken))
		return
	}
	s.metrics.Registrations.Add(1)
	s.log.Info("new user registered", "session", sess.ID, "user", msg.Username)
	s.send(sess.ID, protocol.RegisterSuccess())
}

func (s *Server) handleChat(sess *model.Session, msg *protocol.Message) {
	if !sess.Authenticated() {
		s.metrics.UnauthenticatedChats.Add(1)
		s.log.Warn("dropped chat from unauthenticated session", "session", sess.ID, "remote", sess.RemoteAddr)
		return
	}
	s.metrics.ChatMessagesRelayed.Add(1)
	s.log.Debug("relaying message", "session", sess.ID, "user", sess.Username, "bytes", len(msg.Message))
	s.broadcast(sess, msg.Message)
}

// validationErrs are the store errors whose text is safe to show a client.
var validationErrs = []error{
	model.ErrUsernameEmpty,
	model.ErrUsernameTooLong,
	model.ErrUsernameInvalidChars,
	model.ErrPasswordEmpty,
	model.ErrPasswordTooLong,
}

func validationReason(err error) string {
	for _, target := range validationErrs {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

// send writes one message to a session. A write failure removes the session;
// it is never retried.
func (s *Server) send(id model.SessionID, msg *protocol.Message) bool {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode reply", "session", id, "type", msg.Type, "err", err)
		return false
	}
	if err := s.writeFrame(id, frame); err != nil {
		s.removeSession(id, "write error: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeFrame(id model.SessionID, frame []byte) error {
	conn := s.sessions.Conn(id)
	if conn == nil {
		return ErrNoSession
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_, err := conn.Write(frame)
	return err
}

// removeSession closes and forgets a session. Repeated calls are no-ops.
func (s *Server) removeSession(id model.SessionID, reason string) {
	sess, conn, ok := s.sessions.Remove(id)
	if !ok {
		return
	}
	_ = conn.Close()
	s.metrics.TotalDisconnects.Add(1)
	s.metrics.ActiveSessions.Store(int64(s.sessions.Count()))
	s.log.Info("client disconnected", "session", id, "user", sess.Username, "remote", sess.RemoteAddr, "reason", reason)
}

// closeAll closes the listener, every live connection and every accepted
// connection still queued for the loop.
func (s *Server) closeAll(ln net.Listener) {
	_ = ln.Close()
	for _, id := range s.sessions.IDs() {
		s.removeSession(id, "server shutting down")
	}
	for drained := false; !drained; {
		select {
		case ev := <-s.events:
			if ev.kind == eventAccept {
				_ = ev.conn.Close()
			}
		default:
			drained = true
		}
	}
	s.log.Info("relay stopped")
}
