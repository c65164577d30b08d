package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
)

// Manager is the registry of live sessions. It creates coordinators, routes
// user requests to them and enforces one active session per user. The
// registry is its own lock domain; nothing under mu ever calls into a
// coordinator.
type Manager struct {
	log     *slog.Logger
	store   Store
	bcast   Broadcaster
	timings Timings

	mu     sync.RWMutex
	byID   map[string]*Coordinator
	byCode map[string]*Coordinator
	byUser map[string]string // userID -> sessionID, DM included
}

// NewManager returns an empty registry.
func NewManager(log *slog.Logger, store Store, bcast Broadcaster, timings Timings) *Manager {
	return &Manager{
		log:     log,
		store:   store,
		bcast:   bcast,
		timings: timings,
		byID:    make(map[string]*Coordinator),
		byCode:  make(map[string]*Coordinator),
		byUser:  make(map[string]string),
	}
}

// Create opens a new lobby with the caller as DM.
func (m *Manager) Create(ctx context.Context, dmUserID string, rawConfig json.RawMessage) (protocol.SessionCreated, error) {
	var out protocol.SessionCreated

	m.mu.RLock()
	_, busy := m.byUser[dmUserID]
	m.mu.RUnlock()
	if busy {
		return out, Errf(protocol.ErrAlreadyInSession, "leave your current session first")
	}

	cfg, err := model.ParseSessionConfig(rawConfig)
	if err != nil {
		return out, Errf(protocol.ErrInvalidConfig, "%v", err)
	}
	if cfg.MapSeed == 0 {
		cfg.MapSeed = randomSeed()
	}

	sess := &model.Session{
		ID:        uuid.NewString(),
		DMUserID:  dmUserID,
		Status:    model.StatusLobby,
		Config:    cfg,
		CreatedAt: time.Now(),
	}

	// The partial unique index on join_code is the backstop; the in-memory
	// check just avoids burning an insert on an obvious collision.
	for attempt := 0; ; attempt++ {
		code, err := newJoinCode()
		if err != nil {
			return out, fmt.Errorf("generating join code: %w", err)
		}
		m.mu.RLock()
		_, taken := m.byCode[code]
		m.mu.RUnlock()
		if taken {
			continue
		}
		sess.JoinCode = code
		if err := m.store.CreateSession(ctx, sess); err != nil {
			if attempt+1 < joinCodeAttempts {
				continue
			}
			return out, fmt.Errorf("creating session after %d attempts: %w", attempt+1, err)
		}
		break
	}

	co := newCoordinator(m.log, m.store, m.bcast, m.timings, sess, Hooks{
		OnEnd:   m.sessionEnded,
		OnEvict: m.userDetached,
	})

	m.mu.Lock()
	m.byID[sess.ID] = co
	m.byCode[sess.JoinCode] = co
	m.byUser[dmUserID] = sess.ID
	m.mu.Unlock()

	m.bcast.AddToSession(sess.ID, dmUserID)
	m.log.Info("session created", "session", sess.ID, "code", sess.JoinCode, "dm", dmUserID)

	out = protocol.SessionCreated{SessionID: sess.ID, JoinCode: sess.JoinCode}
	return out, nil
}

// Join routes a join request by code and registers the user on success.
func (m *Manager) Join(ctx context.Context, userID, joinCode, characterID string) (protocol.SessionView, error) {
	code := NormalizeJoinCode(joinCode)

	m.mu.RLock()
	co, found := m.byCode[code]
	current, busy := m.byUser[userID]
	m.mu.RUnlock()

	if !found {
		return protocol.SessionView{}, Errf(protocol.ErrSessionNotFound, "no session with that code")
	}
	if busy && current != co.ID() {
		return protocol.SessionView{}, Errf(protocol.ErrAlreadyInSession, "leave your current session first")
	}

	view, err := co.Join(ctx, userID, characterID)
	if err != nil {
		return protocol.SessionView{}, err
	}

	m.mu.Lock()
	m.byUser[userID] = co.ID()
	m.mu.Unlock()
	return view, nil
}

// Leave removes the user from their current session.
func (m *Manager) Leave(ctx context.Context, userID string) error {
	co, err := m.forUser(userID)
	if err != nil {
		return err
	}
	if err := co.Leave(ctx, userID); err != nil {
		return err
	}
	m.userDetached(userID)
	return nil
}

// SetReady flips the caller's lobby ready flag.
func (m *Manager) SetReady(ctx context.Context, userID string, ready bool) (protocol.SessionView, error) {
	co, err := m.forUser(userID)
	if err != nil {
		return protocol.SessionView{}, err
	}
	return co.SetReady(ctx, userID, ready)
}

// Start begins the caller's session.
func (m *Manager) Start(ctx context.Context, userID string) error {
	co, err := m.forUser(userID)
	if err != nil {
		return err
	}
	return co.Start(ctx, userID)
}

// SubmitAction routes a combat action.
func (m *Manager) SubmitAction(ctx context.Context, userID string, a sim.Action) error {
	co, err := m.forUser(userID)
	if err != nil {
		return err
	}
	return co.SubmitAction(ctx, userID, a)
}

// DMCommand routes a DM command.
func (m *Manager) DMCommand(ctx context.Context, userID string, cmd protocol.DMCommand) error {
	co, err := m.forUser(userID)
	if err != nil {
		return err
	}
	return co.DMCommand(ctx, userID, cmd)
}

// Chat routes a chat message.
func (m *Manager) Chat(ctx context.Context, userID, text string) error {
	co, err := m.forUser(userID)
	if err != nil {
		return err
	}
	return co.Chat(ctx, userID, text)
}

// Resync re-sends view and snapshot to the caller.
func (m *Manager) Resync(ctx context.Context, userID string) error {
	co, err := m.forUser(userID)
	if err != nil {
		return err
	}
	return co.Resync(ctx, userID)
}

// NotifyConnected forwards a socket-open signal to the user's session, if
// any.
func (m *Manager) NotifyConnected(userID string) {
	if co, err := m.forUser(userID); err == nil {
		co.NotifyConnected(userID)
	}
}

// NotifyDisconnected forwards a socket-close signal to the user's session.
func (m *Manager) NotifyDisconnected(userID string) {
	if co, err := m.forUser(userID); err == nil {
		co.NotifyDisconnected(userID)
	}
}

// Shutdown stops every live coordinator. Sessions stay in the database.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	coords := make([]*Coordinator, 0, len(m.byID))
	for _, co := range m.byID {
		coords = append(coords, co)
	}
	m.mu.RUnlock()

	for _, co := range coords {
		if err := co.Shutdown(ctx); err != nil {
			m.log.Error("shutting down session", "session", co.ID(), "error", err)
		}
	}
}

// forUser resolves the caller's coordinator.
func (m *Manager) forUser(userID string) (*Coordinator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUser[userID]
	if !ok {
		return nil, Errf(protocol.ErrNotInSession, "not in a session")
	}
	co, ok := m.byID[id]
	if !ok {
		return nil, Errf(protocol.ErrNotInSession, "not in a session")
	}
	return co, nil
}

// userDetached drops a user's registration. Called on explicit leave and by
// coordinators on grace evictions.
func (m *Manager) userDetached(userID string) {
	m.mu.Lock()
	delete(m.byUser, userID)
	m.mu.Unlock()
}

// sessionEnded unregisters a finished session and everyone still mapped to
// it.
func (m *Manager) sessionEnded(co *Coordinator) {
	m.mu.Lock()
	delete(m.byID, co.ID())
	delete(m.byCode, co.JoinCode())
	for uid, sid := range m.byUser {
		if sid == co.ID() {
			delete(m.byUser, uid)
		}
	}
	m.mu.Unlock()
}

func randomSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	s := binary.LittleEndian.Uint64(b[:])
	if s == 0 {
		s = 1
	}
	return s
}
