// Package gameserver accepts websocket connections, authenticates them,
// decodes the JSON protocol and routes requests to the session manager and
// the character store. One goroutine reads per connection; one goroutine
// writes per connection.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/udisondev/warband/internal/config"
	"github.com/udisondev/warband/internal/db"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
	"github.com/udisondev/warband/internal/session"
)

// Server is the websocket front of the game server.
type Server struct {
	log      *slog.Logger
	cfg      config.GameServer
	auth     *Authenticator
	store    *db.Store
	sessions *session.Manager
	clients  *ClientManager

	httpServer *http.Server
}

// New assembles the server.
func New(log *slog.Logger, cfg config.GameServer, store *db.Store, sessions *session.Manager, clients *ClientManager) *Server {
	s := &Server{
		log:      log,
		cfg:      cfg,
		auth:     NewAuthenticator(cfg.JWTSecret),
		store:    store,
		sessions: sessions,
		clients:  clients,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the context is cancelled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("game server listening", "addr", s.cfg.Addr())
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("game server shutting down")
	s.clients.CloseAll(protocol.CloseServerShutdown)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// handleWS upgrades, authenticates and then serves one connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients connect from the game's own origin; native
		// clients send none.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(protocol.MaxFrameSize)

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	client, err := s.authenticate(r.Context(), conn, ip)
	if err != nil {
		s.log.Debug("authentication failed", "ip", ip, "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, protocol.CloseAuthFailed)
		return
	}

	s.serve(r.Context(), client)
}

// authenticate enforces the authenticate-first rule: the very first frame
// must carry a valid token, inside the auth timeout.
func (s *Server) authenticate(ctx context.Context, conn *websocket.Conn, ip string) (*Client, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	_, frame, err := conn.Read(actx)
	if err != nil {
		return nil, fmt.Errorf("reading first frame: %w", err)
	}
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		return nil, err
	}
	if req.Type != protocol.TypeAuthenticate {
		return nil, fmt.Errorf("first frame is %q, want authenticate", req.Type)
	}
	payload, err := protocol.DecodePayload[protocol.Authenticate](req)
	if err != nil {
		return nil, err
	}

	ident, err := s.auth.Verify(payload.Token)
	if err != nil {
		return nil, err
	}
	if err := s.store.Users.UpsertOnLogin(ctx, &model.User{
		ID:          ident.UserID,
		DisplayName: ident.DisplayName,
		Email:       ident.Email,
		LastIP:      ip,
	}); err != nil {
		return nil, fmt.Errorf("recording login: %w", err)
	}

	client := NewClient(s.log, conn, ident.UserID, ip,
		s.cfg.SendQueueSize, defaultWriteTimeout, s.cfg.PingInterval)
	s.clients.Register(client)

	client.SendResponse(protocol.Response{
		Type:   protocol.TypeAuthenticated,
		ReqSeq: req.Seq,
		Payload: protocol.Authenticated{
			UserID:      ident.UserID,
			DisplayName: ident.DisplayName,
		},
		Success: true,
	})
	return client, nil
}

// serve runs the read loop until the connection drops, then tears down.
func (s *Server) serve(ctx context.Context, client *Client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go client.writeLoop(ctx)

	s.sessions.NotifyConnected(client.UserID())
	s.log.Info("client connected", "user", client.UserID(), "ip", client.IP())

	defer func() {
		client.Close(websocket.StatusNormalClosure, "")
		if s.clients.Unregister(client) {
			// Only the current connection triggers disconnect handling; a
			// superseded socket going away must not start grace timers.
			s.sessions.NotifyDisconnected(client.UserID())
		}
		s.log.Info("client disconnected", "user", client.UserID())
	}()

	// Liveness is the writer's job: its periodic ping fails fast on a dead
	// peer and closes the client, which unblocks this read.
	for {
		_, frame, err := client.conn.Read(ctx)
		if err != nil {
			return
		}

		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			s.log.Debug("bad frame", "user", client.UserID(), "error", err)
			client.Close(websocket.StatusPolicyViolation, protocol.CloseProtocolError)
			return
		}
		s.dispatch(ctx, client, req)
	}
}
