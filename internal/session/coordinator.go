package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
)

// Timings groups the coordinator's wall-clock knobs. Production uses
// DefaultTimings; tests shrink them.
type Timings struct {
	// ReconnectGrace is how long a disconnected player keeps their seat.
	ReconnectGrace time.Duration
	// DMAbsence is how long a session stays paused after the DM drops
	// before it is ended.
	DMAbsence time.Duration
	// PersistBackoff seeds the retry backoff for state writes.
	PersistBackoff time.Duration
}

// DefaultTimings returns the production values.
func DefaultTimings() Timings {
	return Timings{
		ReconnectGrace: 30 * time.Second,
		DMAbsence:      2 * time.Minute,
		PersistBackoff: 100 * time.Millisecond,
	}
}

// errClosed reports a call against a coordinator whose run loop has exited.
var errClosed = errors.New("session closed")

// maxScriptedSteps bounds the monster/NPC auto-play loop per player action,
// so a policy bug can never wedge a coordinator.
const maxScriptedSteps = 200

// Coordinator owns one live session. All fields below the mailbox are
// touched only from the run goroutine; outside callers go through do().
type Coordinator struct {
	log     *slog.Logger
	store   Store
	bcast   Broadcaster
	timings Timings
	hooks   Hooks

	inbox  chan func()
	closed chan struct{}

	sess      *model.Session
	players   map[string]*model.SessionPlayer
	joinOrder []string
	eventSeq  uint64
	eventLog  []sim.Event // everything appended so far, for the archive
	monsters  int         // monsters slain this game, for rewards
	spawnSeq  int         // disambiguates DM-spawned unit IDs

	turnTimer   *time.Timer
	turnUnitID  string
	graceTimers map[string]*time.Timer
	dmTimer     *time.Timer
}

// Hooks lets the manager keep its registries in step with membership
// changes that originate inside a coordinator (grace evictions, game end).
type Hooks struct {
	OnEnd   func(c *Coordinator)
	OnEvict func(userID string)
}

func newCoordinator(log *slog.Logger, store Store, bcast Broadcaster, timings Timings, sess *model.Session, hooks Hooks) *Coordinator {
	c := &Coordinator{
		log:         log.With("session", sess.ID),
		store:       store,
		bcast:       bcast,
		timings:     timings,
		hooks:       hooks,
		inbox:       make(chan func(), 64),
		closed:      make(chan struct{}),
		sess:        sess,
		players:     make(map[string]*model.SessionPlayer),
		graceTimers: make(map[string]*time.Timer),
	}
	go c.run()
	return c
}

// ID returns the session ID. Immutable, safe from any goroutine.
func (c *Coordinator) ID() string { return c.sess.ID }

// JoinCode returns the session's join code. Immutable.
func (c *Coordinator) JoinCode() string { return c.sess.JoinCode }

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.closed:
			// Drain what raced the close so no caller hangs on do().
			for {
				select {
				case fn := <-c.inbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the session goroutine and waits for its result. Every
// exported operation funnels through here, which is what makes the
// coordinator lock-free.
func (c *Coordinator) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case c.inbox <- func() { done <- c.call(fn) }:
	case <-c.closed:
		return errClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. Used by timer callbacks; drops silently
// once the session is closed, which is the right thing for a late timer.
func (c *Coordinator) post(fn func()) {
	wrapped := func() {
		_ = c.call(func() error {
			fn()
			return nil
		})
	}
	select {
	case c.inbox <- wrapped:
	case <-c.closed:
	}
}

// call runs fn and contains any panic to this session. The coordinator's
// goroutine is the only one a session has; a panic unwinding it would take
// the whole process down, so a panicking operation instead ends the session
// with reason internal_error.
func (c *Coordinator) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("session operation panicked", "panic", r, "stack", string(debug.Stack()))
			err = c.fatal(context.Background(), fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

// view projects the session for clients. Run-loop only.
func (c *Coordinator) view() protocol.SessionView {
	v := protocol.SessionView{
		ID:           c.sess.ID,
		JoinCode:     c.sess.JoinCode,
		DMUserID:     c.sess.DMUserID,
		Status:       c.sess.Status,
		Config:       c.sess.Config,
		StateVersion: c.sess.StateVersion,
	}
	for _, uid := range c.joinOrder {
		p, ok := c.players[uid]
		if !ok {
			continue
		}
		v.Players = append(v.Players, protocol.PlayerView{
			UserID:      p.UserID,
			CharacterID: p.CharacterID,
			UnitID:      p.UnitID,
			Status:      p.Status,
			IsReady:     p.IsReady,
		})
	}
	return v
}

// snapshot builds the full-state push for one client.
func (c *Coordinator) snapshot() protocol.Push {
	return protocol.NewPush(protocol.TypeStateSnapshot, protocol.StateSnapshot{
		GameState:    c.sess.GameState,
		StateVersion: c.sess.StateVersion,
	}, c.eventSeq)
}

// broadcastSessionUpdated fans the current view to all members.
func (c *Coordinator) broadcastSessionUpdated() {
	c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypeSessionUpdated, c.view(), c.eventSeq), "")
}

func (c *Coordinator) isDM(userID string) bool {
	return userID == c.sess.DMUserID
}

// armTurnTimer starts (or restarts) the turn clock for unitID. No-op when
// the config disables turn limits or the unit is not player-controlled.
func (c *Coordinator) armTurnTimer(unitID string) {
	c.stopTurnTimer()
	limit := c.sess.Config.TurnTimeLimit
	if limit <= 0 || c.sess.Status != model.StatusPlaying {
		return
	}
	u := c.sess.GameState.UnitByID(unitID)
	if u == nil || u.Type != sim.UnitPlayer {
		return
	}
	c.turnUnitID = unitID
	c.turnTimer = time.AfterFunc(time.Duration(limit)*time.Second, func() {
		c.post(func() { c.onTurnTimeout(unitID) })
	})
}

func (c *Coordinator) stopTurnTimer() {
	if c.turnTimer != nil {
		c.turnTimer.Stop()
		c.turnTimer = nil
	}
	c.turnUnitID = ""
}

// onTurnTimeout force-ends a turn that outlived its clock. The synthesized
// end_turn goes through the exact pipeline a client request would.
func (c *Coordinator) onTurnTimeout(unitID string) {
	if c.sess.Status != model.StatusPlaying {
		return
	}
	gs := c.sess.GameState
	if gs == nil || gs.Combat.TurnState == nil || gs.Combat.TurnState.UnitID != unitID {
		return
	}
	c.log.Info("turn timed out", "unit", unitID)
	if err := c.applyAction(context.Background(), sim.Action{Type: sim.ActionEndTurn, UnitID: unitID}); err != nil {
		c.log.Error("ending timed-out turn", "unit", unitID, "error", err)
	}
}

// rearmFromEvents scans a just-broadcast batch and keeps the timers and the
// slain-monster counter in step with it.
func (c *Coordinator) rearmFromEvents(events []sim.Event) {
	for _, ev := range events {
		switch p := ev.Payload.(type) {
		case sim.TurnStarted:
			c.armTurnTimer(p.UnitID)
		case sim.UnitKilled:
			if u := c.sess.GameState.UnitByID(p.UnitID); u != nil && u.Type == sim.UnitMonster {
				c.monsters++
			}
		case sim.CombatEnded:
			c.stopTurnTimer()
		}
	}
}
