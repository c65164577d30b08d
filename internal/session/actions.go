package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/udisondev/warband/internal/db"
	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
)

// SubmitAction validates and applies one player action. Ownership is checked
// here; rule validation happens in the simulation and its reason code passes
// through to the client verbatim.
func (c *Coordinator) SubmitAction(ctx context.Context, userID string, a sim.Action) error {
	return c.do(ctx, func() error {
		if _, ok := c.players[userID]; !ok && !c.isDM(userID) {
			return Errf(protocol.ErrNotInSession, "not a member")
		}
		if c.sess.Status != model.StatusPlaying {
			return Errf(string(sim.ReasonNotInProgress), "session is %s", c.sess.Status)
		}
		u := c.sess.GameState.UnitByID(a.UnitID)
		if u == nil {
			return Errf(string(sim.ReasonUnitNotFound), "no unit %q", a.UnitID)
		}
		// The DM may drive any unit; players only their own.
		if !c.isDM(userID) && u.ControllerUserID != userID {
			return Errf(protocol.ErrNotYourUnit, "unit %q is not yours", a.UnitID)
		}
		if v := sim.Validate(a, c.sess.GameState); !v.Valid {
			return Errf(string(v.Reason), "action rejected")
		}
		return c.applyAction(ctx, a)
	})
}

// applyAction runs one action plus any monster/NPC turns it unlocks.
// Run-loop only.
func (c *Coordinator) applyAction(ctx context.Context, a sim.Action) error {
	if err := c.applyOne(ctx, a); err != nil {
		return err
	}
	return c.runScriptedTurns(ctx)
}

/// runScriptedTurns plays out consecutive non-player turns: monsters follow
// the built-in policy, NPC companions yield. Stops as soon as a player is up,
// combat ends, or the session leaves playing.
func (c *Coordinator) runScriptedTurns(ctx context.Context) error {
	for i := 0; i < maxScriptedSteps; i++ {
		if c.sess.Status != model.StatusPlaying {
			return nil
		}
		a, ok := sim.ScriptedAction(c.sess.GameState)
		if !ok {
			return nil
		}
		if err := c.applyOne(ctx, a); err != nil {
			return err
		}
	}
	c.log.Warn("scripted turn loop hit step cap", "cap", maxScriptedSteps)
	return nil
}

// applyOne executes a single action against a clone, persists the result and
// only then swaps the authoritative state. A failed persist leaves the old
// state untouched.
func (c *Coordinator) applyOne(ctx context.Context, a sim.Action) error {
	clone := c.sess.GameState.Clone()
	events, err := sim.Execute(a, clone, time.Now())
	if err != nil {
		// Execute failing on a validated action means the state itself is
		// broken; the session cannot be trusted to continue.
		return c.fatal(ctx, fmt.Errorf("executing %s for %q: %w", a.Type, a.UnitID, err))
	}
	if err := c.persist(ctx, clone, events); err != nil {
		return err
	}
	c.rearmFromEvents(events)

	if clone.Combat.Phase.Over() {
		return c.end(ctx, string(clone.Combat.Phase))
	}
	return nil
}

// persist writes the new state and its events, swaps the in-memory
// authoritative copy and broadcasts the delta. Transient write failures are
// retried with backoff; a version conflict is not retried because it means
// another writer owns the row.
func (c *Coordinator) persist(ctx context.Context, next *sim.GameState, events []sim.Event) error {
	from := c.sess.StateVersion
	to := from + 1

	seqBase := c.eventSeq
	for i := range events {
		seqBase++
		events[i].Seq = seqBase
	}

	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(c.timings.PersistBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.store.UpdateGameState(ctx, c.sess.ID, next, to); err != nil {
			if errors.Is(err, db.ErrVersionConflict) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.log.Error("persisting state", "version", to, "error", err)
		if errors.Is(err, db.ErrVersionConflict) {
			return Errf(protocol.ErrStateConflict, "state version %d already written", to)
		}
		return Errf(protocol.ErrPersistFailed, "could not persist state")
	}

	if err := c.store.AppendEvents(ctx, c.sess.ID, events); err != nil {
		// State v(to) is durable; losing log rows costs replay fidelity, not
		// correctness. Clients resync from the snapshot on the next gap.
		c.log.Error("appending events", "count", len(events), "error", err)
	}

	c.sess.GameState = next
	c.sess.StateVersion = to
	c.eventSeq = seqBase
	c.eventLog = append(c.eventLog, events...)

	c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypeStateDelta, protocol.StateDelta{
		FromVersion: from,
		ToVersion:   to,
		Events:      events,
	}, c.eventSeq), "")
	return nil
}

// appendRosterEvent logs a non-combat fact (join, leave, chat, grant). These
// do not bump the state version; they only extend the event log. Run-loop
// only.
func (c *Coordinator) appendRosterEvent(ctx context.Context, typ sim.EventType, payload any) {
	c.eventSeq++
	ev := sim.Event{Seq: c.eventSeq, TS: time.Now(), Type: typ, Payload: payload}
	if err := c.store.AppendEvents(ctx, c.sess.ID, []sim.Event{ev}); err != nil {
		c.log.Error("appending roster event", "type", typ, "error", err)
	}
	c.eventLog = append(c.eventLog, ev)
}

// DMCommand applies a DM-only mutation.
func (c *Coordinator) DMCommand(ctx context.Context, userID string, cmd protocol.DMCommand) error {
	return c.do(ctx, func() error {
		if !c.isDM(userID) {
			return Errf(protocol.ErrNotDM, "dm commands are dm-only")
		}
		switch cmd.Kind {
		case protocol.DMPause:
			if c.sess.Status != model.StatusPlaying {
				return Errf(string(sim.ReasonNotInProgress), "session is %s", c.sess.Status)
			}
			c.pause(ctx)
			return nil
		case protocol.DMResume:
			if c.sess.Status != model.StatusPaused {
				return Errf(protocol.ErrInvalidPayload, "session is not paused")
			}
			c.resume(ctx)
			return nil
		case protocol.DMEndSession:
			return c.end(ctx, "dm_ended")
		case protocol.DMForceEndTurn:
			return c.dmForceEndTurn(ctx)
		case protocol.DMSpawnUnit:
			return c.dmSpawnUnit(ctx, cmd)
		case protocol.DMSetStats:
			return c.dmSetStats(ctx, cmd)
		case protocol.DMGrant:
			return c.dmGrant(ctx, cmd)
		default:
			return Errf(protocol.ErrInvalidPayload, "unknown dm command %q", cmd.Kind)
		}
	})
}

func (c *Coordinator) dmForceEndTurn(ctx context.Context) error {
	if c.sess.Status != model.StatusPlaying {
		return Errf(string(sim.ReasonNotInProgress), "session is %s", c.sess.Status)
	}
	ts := c.currentTurn()
	if ts == nil {
		return Errf(string(sim.ReasonNotInProgress), "no turn in progress")
	}
	c.appendRosterEvent(ctx, sim.EventDMCommandApplied,
		sim.DMCommandApplied{Command: string(protocol.DMForceEndTurn), Detail: ts.UnitID})
	return c.applyAction(ctx, sim.Action{Type: sim.ActionEndTurn, UnitID: ts.UnitID})
}

func (c *Coordinator) dmSpawnUnit(ctx context.Context, cmd protocol.DMCommand) error {
	if c.sess.Status != model.StatusPlaying {
		return Errf(string(sim.ReasonNotInProgress), "session is %s", c.sess.Status)
	}
	if cmd.Position == nil {
		return Errf(protocol.ErrInvalidPayload, "spawn_unit needs a position")
	}
	if cmd.UnitType != sim.UnitMonster && cmd.UnitType != sim.UnitNPC {
		return Errf(protocol.ErrInvalidPayload, "cannot spawn unit type %q", cmd.UnitType)
	}
	gs := c.sess.GameState
	if !gs.Map.Walkable(*cmd.Position) || gs.LiveUnitAt(*cmd.Position) != nil {
		return Errf(string(sim.ReasonBlockedTile), "tile is not free")
	}

	c.spawnSeq++
	stats := sim.MonsterStats(c.sess.Config.Difficulty)
	name := fmt.Sprintf("Gnarler S%d", c.spawnSeq)
	if cmd.UnitType == sim.UnitNPC {
		stats = sim.ClassStats(sim.ClassWarrior)
		name = fmt.Sprintf("Companion S%d", c.spawnSeq)
	}
	if cmd.Stats != nil {
		stats = *cmd.Stats
	}
	u := &sim.Unit{
		ID:       fmt.Sprintf("%s-s%d", cmd.UnitType, c.spawnSeq),
		Type:     cmd.UnitType,
		Name:     name,
		Position: *cmd.Position,
		Stats:    stats,
	}

	clone := gs.Clone()
	clone.Units = append(clone.Units, u)
	// Spawned units enter at the end of the current initiative order.
	clone.Combat.InitiativeOrder = append(clone.Combat.InitiativeOrder,
		sim.InitiativeEntry{UnitID: u.ID, Initiative: u.Stats.Initiative})
	clone.Tick++

	ev := sim.Event{TS: time.Now(), Type: sim.EventDMCommandApplied,
		Payload: sim.DMCommandApplied{Command: string(protocol.DMSpawnUnit), Detail: u}}
	if err := c.persist(ctx, clone, []sim.Event{ev}); err != nil {
		return err
	}
	c.broadcastSnapshot()
	return nil
}

func (c *Coordinator) dmSetStats(ctx context.Context, cmd protocol.DMCommand) error {
	if c.sess.Status != model.StatusPlaying && c.sess.Status != model.StatusPaused {
		return Errf(string(sim.ReasonNotInProgress), "session is %s", c.sess.Status)
	}
	if cmd.Stats == nil || cmd.UnitID == "" {
		return Errf(protocol.ErrInvalidPayload, "set_stats needs unitId and stats")
	}
	clone := c.sess.GameState.Clone()
	u := clone.UnitByID(cmd.UnitID)
	if u == nil {
		return Errf(string(sim.ReasonUnitNotFound), "no unit %q", cmd.UnitID)
	}
	stats := *cmd.Stats
	if stats.HP > stats.MaxHP {
		stats.HP = stats.MaxHP
	}
	u.Stats = stats
	clone.Tick++

	ev := sim.Event{TS: time.Now(), Type: sim.EventDMCommandApplied,
		Payload: sim.DMCommandApplied{Command: string(protocol.DMSetStats), Detail: cmd.UnitID}}
	if err := c.persist(ctx, clone, []sim.Event{ev}); err != nil {
		return err
	}
	c.broadcastSnapshot()
	return nil
}

// dmGrant awards XP or gold outside the end-of-game formula. Touches the
// character row only, never combat state.
func (c *Coordinator) dmGrant(ctx context.Context, cmd protocol.DMCommand) error {
	p, ok := c.players[cmd.UserID]
	if !ok {
		return Errf(protocol.ErrNotInSession, "user %q is not a member", cmd.UserID)
	}
	if cmd.XP < 0 || cmd.Gold < 0 {
		return Errf(protocol.ErrInvalidPayload, "grants must not be negative")
	}
	if err := c.store.ApplyProgression(ctx, p.CharacterID, cmd.XP, cmd.Gold, 0, 0); err != nil {
		return fmt.Errorf("granting to %q: %w", p.CharacterID, err)
	}
	c.appendRosterEvent(ctx, sim.EventDMCommandApplied,
		sim.DMCommandApplied{Command: string(protocol.DMGrant), Detail: cmd.UserID})
	return nil
}

// broadcastSnapshot pushes the full state to every member and the DM. Used
// after DM mutations that the delta stream cannot describe.
func (c *Coordinator) broadcastSnapshot() {
	snap := c.snapshot()
	for uid := range c.players {
		c.bcast.Send(uid, snap)
	}
	if _, seated := c.players[c.sess.DMUserID]; !seated {
		c.bcast.Send(c.sess.DMUserID, snap)
	}
}

// Chat relays a message to the whole session and records it in the log.
func (c *Coordinator) Chat(ctx context.Context, userID, text string) error {
	return c.do(ctx, func() error {
		if _, ok := c.players[userID]; !ok && !c.isDM(userID) {
			return Errf(protocol.ErrNotInSession, "not a member")
		}
		if len(text) == 0 || len(text) > protocol.MaxChatLen {
			return Errf(protocol.ErrChatTooLong, "message must be 1..%d bytes", protocol.MaxChatLen)
		}
		c.appendRosterEvent(ctx, sim.EventChatMessage, sim.ChatMessage{UserID: userID, Text: text})
		c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypeChatMessage, protocol.ChatMessagePush{
			UserID: userID,
			Text:   text,
			TS:     time.Now().UnixMilli(),
		}, c.eventSeq), "")
		return nil
	})
}

// Resync re-sends the session view and, when a game is live, the full state
// snapshot to one member.
func (c *Coordinator) Resync(ctx context.Context, userID string) error {
	return c.do(ctx, func() error {
		if _, ok := c.players[userID]; !ok && !c.isDM(userID) {
			return Errf(protocol.ErrNotInSession, "not a member")
		}
		c.bcast.Send(userID, protocol.NewPush(protocol.TypeSessionJoined, c.view(), c.eventSeq))
		if c.sess.GameState != nil {
			c.bcast.Send(userID, c.snapshot())
		}
		return nil
	})
}
