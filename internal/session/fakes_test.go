package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/udisondev/warband/internal/db"
	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
)

// fakeStore is an in-memory Store for coordinator tests.
type fakeStore struct {
	mu sync.Mutex

	sessions map[string]*model.Session
	versions map[string]uint64
	players  map[string]map[string]*model.SessionPlayer
	events   map[string][]sim.Event
	chars    map[string]*model.Character
	archives map[string]*model.SessionArchive
	grants   map[string][4]int // characterID -> xp, gold, slain, games

	failNextStateWrites int
	conflictStateWrites bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*model.Session),
		versions: make(map[string]uint64),
		players:  make(map[string]map[string]*model.SessionPlayer),
		events:   make(map[string][]sim.Event),
		chars:    make(map[string]*model.Character),
		archives: make(map[string]*model.SessionArchive),
		grants:   make(map[string][4]int),
	}
}

func (f *fakeStore) addCharacter(id, userID string, class sim.Class) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chars[id] = &model.Character{ID: id, UserID: userID, Name: id, Class: class}
}

func (f *fakeStore) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.sessions {
		if other.Status != model.StatusEnded && other.JoinCode == s.JoinCode {
			return fmt.Errorf("join code %q taken", s.JoinCode)
		}
	}
	cp := *s
	f.sessions[s.ID] = &cp
	f.versions[s.ID] = 0
	f.players[s.ID] = make(map[string]*model.SessionPlayer)
	return nil
}

func (f *fakeStore) GetActiveByJoinCode(_ context.Context, code string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Status != model.StatusEnded && s.JoinCode == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status model.SessionStatus, endReason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("no session %q", id)
	}
	s.Status = status
	s.EndReason = endReason
	return nil
}

func (f *fakeStore) UpdateGameState(_ context.Context, id string, state *sim.GameState, newVersion uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextStateWrites > 0 {
		f.failNextStateWrites--
		return fmt.Errorf("simulated write failure")
	}
	if f.conflictStateWrites {
		return fmt.Errorf("session %q: %w", id, db.ErrVersionConflict)
	}
	if f.versions[id] != newVersion-1 {
		return fmt.Errorf("session %q: %w", id, db.ErrVersionConflict)
	}
	f.versions[id] = newVersion
	f.sessions[id].GameState = state
	f.sessions[id].StateVersion = newVersion
	return nil
}

func (f *fakeStore) AppendEvents(_ context.Context, sessionID string, events []sim.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[sessionID] = append(f.events[sessionID], events...)
	return nil
}

func (f *fakeStore) UpsertPlayer(_ context.Context, p *model.SessionPlayer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.players[p.SessionID][p.UserID] = &cp
	return nil
}

func (f *fakeStore) RemovePlayer(_ context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.players[sessionID], userID)
	return nil
}

func (f *fakeStore) Archive(_ context.Context, a *model.SessionArchive, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.archives[a.ID]; dup {
		return fmt.Errorf("archive %q already written", a.ID)
	}
	f.archives[a.ID] = a
	s := f.sessions[sessionID]
	s.Status = model.StatusEnded
	delete(f.events, sessionID)
	return nil
}

func (f *fakeStore) GetCharacter(_ context.Context, id string) (*model.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chars[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ApplyProgression(_ context.Context, id string, xp, gold, monstersSlain, gamesPlayed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chars[id]; !ok {
		return fmt.Errorf("no character %q", id)
	}
	g := f.grants[id]
	g[0] += xp
	g[1] += gold
	g[2] += monstersSlain
	g[3] += gamesPlayed
	f.grants[id] = g
	return nil
}

func (f *fakeStore) eventTypes(sessionID string) []sim.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sim.EventType
	for _, ev := range f.events[sessionID] {
		out = append(out, ev.Type)
	}
	return out
}

// fakeBcast records everything the coordinator pushes.
type fakeBcast struct {
	mu      sync.Mutex
	sends   map[string][]protocol.Push
	casts   []protocol.Push
	members map[string]map[string]struct{}
	closed  map[string]string // sessionID -> reason of the closing call
}

func newFakeBcast() *fakeBcast {
	return &fakeBcast{
		sends:   make(map[string][]protocol.Push),
		members: make(map[string]map[string]struct{}),
		closed:  make(map[string]string),
	}
}

func (f *fakeBcast) Send(userID string, msg protocol.Push) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends[userID] = append(f.sends[userID], msg)
}

func (f *fakeBcast) Broadcast(sessionID string, msg protocol.Push, excludeUserID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casts = append(f.casts, msg)
}

func (f *fakeBcast) AddToSession(sessionID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.members[sessionID]
	if !ok {
		set = make(map[string]struct{})
		f.members[sessionID] = set
	}
	set[userID] = struct{}{}
}

func (f *fakeBcast) RemoveFromSession(sessionID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.members[sessionID]; ok {
		delete(set, userID)
	}
}

func (f *fakeBcast) CloseSession(sessionID string, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Like the real manager, only the call that still finds members closes
	// any sockets; later calls are no-ops.
	if _, done := f.closed[sessionID]; !done {
		f.closed[sessionID] = reason
	}
	delete(f.members, sessionID)
}

func (f *fakeBcast) closeReason(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[sessionID]
}

func (f *fakeBcast) broadcastTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.casts {
		out = append(out, p.Type)
	}
	return out
}

func (f *fakeBcast) sentTypes(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.sends[userID] {
		out = append(out, p.Type)
	}
	return out
}

func (f *fakeBcast) lastBroadcast(typ string) (protocol.Push, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.casts) - 1; i >= 0; i-- {
		if f.casts[i].Type == typ {
			return f.casts[i], true
		}
	}
	return protocol.Push{}, false
}
