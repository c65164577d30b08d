package session

import (
	"context"
	"fmt"
	"time"

	"github.com/udisondev/warband/internal/game/sim"
	"github.com/udisondev/warband/internal/model"
	"github.com/udisondev/warband/internal/protocol"
)

// Join seats a user in the session. Re-joining is idempotent and returns the
// current view. Late joins land as spectators when the config allows them.
func (c *Coordinator) Join(ctx context.Context, userID, characterID string) (protocol.SessionView, error) {
	var out protocol.SessionView
	err := c.do(ctx, func() error {
		if p, ok := c.players[userID]; ok {
			// Same seat, possibly a different character while still in lobby.
			if c.sess.Status == model.StatusLobby && characterID != "" {
				p.CharacterID = characterID
			}
			out = c.view()
			return nil
		}

		if c.sess.Status != model.StatusLobby && !c.sess.Config.AllowLateJoin {
			return Errf(protocol.ErrSessionStarted, "game already started")
		}
		if len(c.players) >= c.sess.Config.MaxPlayers {
			return Errf(protocol.ErrSessionFull, "session holds %d players", c.sess.Config.MaxPlayers)
		}

		ch, err := c.store.GetCharacter(ctx, characterID)
		if err != nil {
			return fmt.Errorf("loading character %q: %w", characterID, err)
		}
		if ch == nil || ch.UserID != userID {
			return Errf(protocol.ErrCharacterNotOwned, "character is not yours")
		}

		now := time.Now()
		p := &model.SessionPlayer{
			SessionID:   c.sess.ID,
			UserID:      userID,
			CharacterID: characterID,
			Status:      model.PlayerConnected,
			JoinedAt:    now,
			LastSeenAt:  now,
		}
		if c.sess.Status != model.StatusLobby {
			p.Status = model.PlayerSpectating
		}
		if err := c.store.UpsertPlayer(ctx, p); err != nil {
			return fmt.Errorf("persisting member: %w", err)
		}
		c.players[userID] = p
		c.joinOrder = append(c.joinOrder, userID)
		c.bcast.AddToSession(c.sess.ID, userID)

		c.appendRosterEvent(ctx, sim.EventPlayerJoined, sim.PlayerJoined{UserID: userID, CharacterID: characterID})
		c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypePlayerEvent,
			protocol.PlayerEvent{Kind: string(sim.EventPlayerJoined), UserID: userID}, c.eventSeq), userID)
		c.broadcastSessionUpdated()

		out = c.view()
		return nil
	})
	return out, err
}

// Leave removes a user from the session. The DM leaving ends the session. A
// leaving player's unit stays on the map uncontrolled; its turns end
// automatically like an NPC's.
func (c *Coordinator) Leave(ctx context.Context, userID string) error {
	return c.do(ctx, func() error {
		if c.isDM(userID) {
			return c.end(ctx, "dm_left")
		}
		p, ok := c.players[userID]
		if !ok {
			return Errf(protocol.ErrNotInSession, "not a member")
		}
		c.dropPlayer(ctx, p)

		// An uncontrolled unit whose turn it is should not stall the game.
		c.finishOrphanedTurn(ctx, p.UnitID)
		return nil
	})
}

// dropPlayer removes the roster row and announces the departure. Run-loop
// only.
func (c *Coordinator) dropPlayer(ctx context.Context, p *model.SessionPlayer) {
	if t, ok := c.graceTimers[p.UserID]; ok {
		t.Stop()
		delete(c.graceTimers, p.UserID)
	}
	if u := c.unitOf(p); u != nil {
		u.ControllerUserID = ""
	}
	delete(c.players, p.UserID)
	for i, uid := range c.joinOrder {
		if uid == p.UserID {
			c.joinOrder = append(c.joinOrder[:i], c.joinOrder[i+1:]...)
			break
		}
	}
	if err := c.store.RemovePlayer(ctx, c.sess.ID, p.UserID); err != nil {
		c.log.Error("removing member row", "user", p.UserID, "error", err)
	}
	c.bcast.RemoveFromSession(c.sess.ID, p.UserID)
	if c.hooks.OnEvict != nil {
		c.hooks.OnEvict(p.UserID)
	}

	c.appendRosterEvent(ctx, sim.EventPlayerLeft, sim.PlayerLeft{UserID: p.UserID})
	c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypePlayerEvent,
		protocol.PlayerEvent{Kind: string(sim.EventPlayerLeft), UserID: p.UserID}, c.eventSeq), "")
	c.broadcastSessionUpdated()
}

func (c *Coordinator) unitOf(p *model.SessionPlayer) *sim.Unit {
	if p.UnitID == "" || c.sess.GameState == nil {
		return nil
	}
	return c.sess.GameState.UnitByID(p.UnitID)
}

// finishOrphanedTurn ends the current turn when it belongs to unitID and no
// player controls it anymore.
func (c *Coordinator) finishOrphanedTurn(ctx context.Context, unitID string) {
	if unitID == "" || c.sess.Status != model.StatusPlaying {
		return
	}
	gs := c.sess.GameState
	if gs == nil || gs.Combat.TurnState == nil || gs.Combat.TurnState.UnitID != unitID {
		return
	}
	if err := c.applyAction(ctx, sim.Action{Type: sim.ActionEndTurn, UnitID: unitID}); err != nil {
		c.log.Error("ending orphaned turn", "unit", unitID, "error", err)
	}
}

// SetReady flips a lobby member's ready flag.
func (c *Coordinator) SetReady(ctx context.Context, userID string, ready bool) (protocol.SessionView, error) {
	var out protocol.SessionView
	err := c.do(ctx, func() error {
		if c.sess.Status != model.StatusLobby {
			return Errf(protocol.ErrNotInLobby, "session is %s", c.sess.Status)
		}
		p, ok := c.players[userID]
		if !ok {
			return Errf(protocol.ErrNotInSession, "not a member")
		}
		if p.IsReady != ready {
			p.IsReady = ready
			if err := c.store.UpsertPlayer(ctx, p); err != nil {
				return fmt.Errorf("persisting ready flag: %w", err)
			}
			c.broadcastSessionUpdated()
		}
		out = c.view()
		return nil
	})
	return out, err
}

// Start generates the initial game state and opens combat. DM only; every
// seated player must be ready.
func (c *Coordinator) Start(ctx context.Context, userID string) error {
	return c.do(ctx, func() error {
		if !c.isDM(userID) {
			return Errf(protocol.ErrNotDM, "only the DM starts the game")
		}
		if c.sess.Status != model.StatusLobby {
			return Errf(protocol.ErrNotInLobby, "session is %s", c.sess.Status)
		}
		if len(c.players) == 0 {
			return Errf(protocol.ErrPlayersNotReady, "no players seated")
		}
		for _, p := range c.players {
			if !p.IsReady {
				return Errf(protocol.ErrPlayersNotReady, "player %s not ready", p.UserID)
			}
		}

		classes := make([]sim.Class, 0, len(c.joinOrder))
		for _, uid := range c.joinOrder {
			ch, err := c.store.GetCharacter(ctx, c.players[uid].CharacterID)
			if err != nil || ch == nil {
				return fmt.Errorf("loading character of %q: %w", uid, err)
			}
			classes = append(classes, ch.Class)
		}

		cfg := c.sess.Config
		opts := sim.DefaultOptions(cfg.MapSeed)
		opts.PlayerCount = len(c.joinOrder)
		opts.PlayerClasses = classes
		opts.PlayerMoveRange = cfg.PlayerMoveRange
		opts.MonsterCount = cfg.MonsterCount
		opts.NPCCount = cfg.NPCCount
		opts.NPCClasses = cfg.NPCClasses
		opts.Difficulty = cfg.Difficulty

		gs, err := sim.Generate(opts)
		if err != nil {
			return fmt.Errorf("generating game state: %w", err)
		}

		// Seats map to units in join order.
		for i, uid := range c.joinOrder {
			p := c.players[uid]
			p.UnitID = fmt.Sprintf("player-%d", i+1)
			gs.UnitByID(p.UnitID).ControllerUserID = uid
		}

		now := time.Now()
		events, err := sim.StartCombat(gs, now)
		if err != nil {
			return fmt.Errorf("starting combat: %w", err)
		}

		if err := c.persist(ctx, gs, events); err != nil {
			return err
		}
		c.sess.Status = model.StatusPlaying
		c.sess.StartedAt = &now
		if err := c.store.UpdateStatus(ctx, c.sess.ID, model.StatusPlaying, ""); err != nil {
			c.log.Error("persisting playing status", "error", err)
		}
		for _, p := range c.players {
			if err := c.store.UpsertPlayer(ctx, p); err != nil {
				c.log.Error("persisting unit assignment", "user", p.UserID, "error", err)
			}
		}

		c.broadcastSessionUpdated()
		for uid := range c.players {
			c.bcast.Send(uid, c.snapshot())
		}
		c.bcast.Send(c.sess.DMUserID, c.snapshot())
		c.rearmFromEvents(events)

		return c.runScriptedTurns(ctx)
	})
}

// NotifyConnected marks a member's socket as live again. Fire-and-forget
// from the connection manager.
func (c *Coordinator) NotifyConnected(userID string) {
	c.post(func() {
		p, ok := c.players[userID]
		if !ok {
			if c.isDM(userID) {
				c.dmReturned()
			}
			return
		}
		if t, ok := c.graceTimers[userID]; ok {
			t.Stop()
			delete(c.graceTimers, userID)
		}
		if p.Status == model.PlayerDisconnected {
			p.Status = model.PlayerConnected
			p.LastSeenAt = time.Now()
			ctx := context.Background()
			if err := c.store.UpsertPlayer(ctx, p); err != nil {
				c.log.Error("persisting reconnect", "user", userID, "error", err)
			}
			c.appendRosterEvent(ctx, sim.EventPlayerReconnected, sim.PlayerReconnected{UserID: userID})
			c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypePlayerEvent,
				protocol.PlayerEvent{Kind: string(sim.EventPlayerReconnected), UserID: userID}, c.eventSeq), userID)
			c.broadcastSessionUpdated()
		}
		// A fresh socket always gets the full picture.
		c.bcast.Send(userID, protocol.NewPush(protocol.TypeSessionJoined, c.view(), c.eventSeq))
		if c.sess.GameState != nil {
			c.bcast.Send(userID, c.snapshot())
		}
	})
}

// NotifyDisconnected starts the reconnect grace clock for a member, or
// pauses the game when the DM drops.
func (c *Coordinator) NotifyDisconnected(userID string) {
	c.post(func() {
		if c.isDM(userID) {
			c.dmDropped()
			return
		}
		p, ok := c.players[userID]
		if !ok || p.Status == model.PlayerDisconnected {
			return
		}
		p.Status = model.PlayerDisconnected
		p.LastSeenAt = time.Now()
		ctx := context.Background()
		if err := c.store.UpsertPlayer(ctx, p); err != nil {
			c.log.Error("persisting disconnect", "user", userID, "error", err)
		}
		c.appendRosterEvent(ctx, sim.EventPlayerDisconnected, sim.PlayerDisconnected{UserID: userID})
		c.bcast.Broadcast(c.sess.ID, protocol.NewPush(protocol.TypePlayerEvent,
			protocol.PlayerEvent{Kind: string(sim.EventPlayerDisconnected), UserID: userID}, c.eventSeq), userID)
		c.broadcastSessionUpdated()

		c.graceTimers[userID] = time.AfterFunc(c.timings.ReconnectGrace, func() {
			c.post(func() { c.onGraceExpired(userID) })
		})
	})
}

// onGraceExpired evicts a member who never came back.
func (c *Coordinator) onGraceExpired(userID string) {
	p, ok := c.players[userID]
	if !ok || p.Status != model.PlayerDisconnected {
		return
	}
	c.log.Info("reconnect grace expired", "user", userID)
	ctx := context.Background()
	unitID := p.UnitID
	c.dropPlayer(ctx, p)
	c.finishOrphanedTurn(ctx, unitID)
	c.onLastPlayerGone()
}

// onLastPlayerGone ends a running game that has no seated players left.
func (c *Coordinator) onLastPlayerGone() bool {
	if len(c.players) > 0 || c.sess.Status == model.StatusLobby {
		return false
	}
	if err := c.end(context.Background(), "all_players_left"); err != nil {
		c.log.Error("ending empty session", "error", err)
	}
	return true
}

// dmDropped pauses a running game and arms the DM-absence clock.
func (c *Coordinator) dmDropped() {
	if c.sess.Status == model.StatusPlaying {
		c.pause(context.Background())
	}
	if c.dmTimer != nil {
		c.dmTimer.Stop()
	}
	c.dmTimer = time.AfterFunc(c.timings.DMAbsence, func() {
		c.post(func() {
			c.log.Info("dm absence window expired")
			if err := c.end(context.Background(), "dm_timeout"); err != nil {
				c.log.Error("ending dm-abandoned session", "error", err)
			}
		})
	})
}

// dmReturned cancels the absence clock and resumes a game paused by the
// DM's disconnect.
func (c *Coordinator) dmReturned() {
	if c.dmTimer != nil {
		c.dmTimer.Stop()
		c.dmTimer = nil
	}
	if c.sess.Status == model.StatusPaused {
		c.resume(context.Background())
	}
	c.bcast.Send(c.sess.DMUserID, protocol.NewPush(protocol.TypeSessionJoined, c.view(), c.eventSeq))
	if c.sess.GameState != nil {
		c.bcast.Send(c.sess.DMUserID, c.snapshot())
	}
}

// pause freezes turn clocks and the action pipeline. Run-loop only.
func (c *Coordinator) pause(ctx context.Context) {
	if c.sess.Status != model.StatusPlaying {
		return
	}
	c.sess.Status = model.StatusPaused
	c.stopTurnTimer()
	if err := c.store.UpdateStatus(ctx, c.sess.ID, model.StatusPaused, ""); err != nil {
		c.log.Error("persisting pause", "error", err)
	}
	c.broadcastSessionUpdated()
}

// resume reopens the action pipeline and restarts the current turn's clock.
func (c *Coordinator) resume(ctx context.Context) {
	if c.sess.Status != model.StatusPaused {
		return
	}
	c.sess.Status = model.StatusPlaying
	if err := c.store.UpdateStatus(ctx, c.sess.ID, model.StatusPlaying, ""); err != nil {
		c.log.Error("persisting resume", "error", err)
	}
	if ts := c.currentTurn(); ts != nil {
		c.armTurnTimer(ts.UnitID)
	}
	c.broadcastSessionUpdated()
}

func (c *Coordinator) currentTurn() *sim.TurnState {
	if c.sess.GameState == nil {
		return nil
	}
	return c.sess.GameState.Combat.TurnState
}

// end finishes the session: rewards, archive, final broadcast, shutdown of
// the run loop. Idempotent. Run-loop only.
func (c *Coordinator) end(ctx context.Context, reason string) error {
	select {
	case <-c.closed:
		return nil
	default:
	}

	c.log.Info("ending session", "reason", reason)
	c.stopTurnTimer()
	for _, t := range c.graceTimers {
		t.Stop()
	}
	if c.dmTimer != nil {
		c.dmTimer.Stop()
	}

	c.sess.Status = model.StatusEnded
	c.sess.EndReason = reason

	results := c.grantRewards(ctx)

	if err := c.archive(ctx, results); err != nil {
		// The session row is still closed below so the join code frees up.
		c.log.Error("archiving session", "error", err)
		if err := c.store.UpdateStatus(ctx, c.sess.ID, model.StatusEnded, reason); err != nil {
			c.log.Error("closing session row", "error", err)
		}
	}

	c.broadcastSessionUpdated()
	c.bcast.CloseSession(c.sess.ID, reason)

	close(c.closed)
	if c.hooks.OnEnd != nil {
		c.hooks.OnEnd(c)
	}
	return nil
}

// fatal contains an invariant violation to this session. Members are
// disconnected with a protocol_error close, the session ends with reason
// internal_error and its partial state is archived; the caller gets the
// stable internal code. Run-loop only.
func (c *Coordinator) fatal(ctx context.Context, cause error) error {
	c.log.Error("fatal session error", "error", cause)
	c.bcast.CloseSession(c.sess.ID, protocol.CloseProtocolError)
	if err := c.end(ctx, "internal_error"); err != nil {
		c.log.Error("ending failed session", "error", err)
	}
	return Errf(protocol.ErrInternal, "internal error")
}

// baseXP anchors the reward formula.
const baseXP = 100

func difficultyMult(d sim.Difficulty) float64 {
	switch d {
	case sim.DifficultyEasy:
		return 0.75
	case sim.DifficultyHard:
		return 1.5
	default:
		return 1.0
	}
}

// grantRewards applies end-of-game progression to every seated player's
// character and returns the per-player results for the archive. Victory pays
// in full; defeat pays half. Dead characters keep their XP but earn no gold.
func (c *Coordinator) grantRewards(ctx context.Context) []model.PlayerResult {
	var results []model.PlayerResult
	if c.sess.GameState == nil {
		return results
	}

	xp := int(float64(baseXP*c.monsters) * difficultyMult(c.sess.Config.Difficulty))
	if c.sess.GameState.Combat.Phase != sim.PhaseVictory {
		xp /= 2
	}

	for _, uid := range c.joinOrder {
		p := c.players[uid]
		survived := false
		if u := c.unitOf(p); u != nil && u.Alive() {
			survived = true
		}
		gold := 0
		if survived {
			gold = xp / 2
		}
		res := model.PlayerResult{
			UserID:      uid,
			CharacterID: p.CharacterID,
			XPGained:    xp,
			GoldGained:  gold,
			Survived:    survived,
		}
		if err := c.store.ApplyProgression(ctx, p.CharacterID, xp, gold, c.monsters, 1); err != nil {
			c.log.Error("applying progression", "character", p.CharacterID, "error", err)
		}
		results = append(results, res)
	}
	return results
}

// archive writes the write-once record of the finished game.
func (c *Coordinator) archive(ctx context.Context, results []model.PlayerResult) error {
	now := time.Now()
	playedAt := c.sess.CreatedAt
	if c.sess.StartedAt != nil {
		playedAt = *c.sess.StartedAt
	}
	a := &model.SessionArchive{
		ID:              c.sess.ID,
		DMUserID:        c.sess.DMUserID,
		Config:          c.sess.Config,
		FinalState:      c.sess.GameState,
		EventLog:        c.eventLog,
		PlayerResults:   results,
		PlayedAt:        playedAt,
		DurationSeconds: int(now.Sub(playedAt) / time.Second),
	}
	return c.store.Archive(ctx, a, c.sess.ID)
}

// Shutdown stops the run loop without ending the session; the row stays in
// the database for pickup after a restart.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.do(ctx, func() error {
		select {
		case <-c.closed:
			return nil
		default:
		}
		c.stopTurnTimer()
		for _, t := range c.graceTimers {
			t.Stop()
		}
		if c.dmTimer != nil {
			c.dmTimer.Stop()
		}
		close(c.closed)
		return nil
	})
}
