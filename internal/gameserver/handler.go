package gameserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/udisondev/warband/internal/protocol"
	"github.com/udisondev/warband/internal/session"
)

// dispatch routes one decoded request. Every branch answers with exactly one
// response carrying the request's seq; pushes triggered along the way travel
// separately.
func (s *Server) dispatch(ctx context.Context, c *Client, req protocol.Request) {
	switch req.Type {
	case protocol.TypePing:
		c.SendResponse(protocol.OKResponse(req.Type, req.Seq, nil))

	case protocol.TypeAuthenticate:
		// Already authenticated; a second authenticate is a protocol error
		// but not worth dropping the connection over.
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrUnknownType, "already authenticated"))

	case protocol.TypeCreateGame:
		s.handleCreateGame(ctx, c, req)
	case protocol.TypeJoinGame:
		s.handleJoinGame(ctx, c, req)
	case protocol.TypeLeaveGame:
		s.respond(c, req, nil, s.sessions.Leave(ctx, c.UserID()))
	case protocol.TypeReady:
		s.handleReady(ctx, c, req)
	case protocol.TypeStartGame:
		s.respond(c, req, nil, s.sessions.Start(ctx, c.UserID()))
	case protocol.TypeAction:
		s.handleAction(ctx, c, req)
	case protocol.TypeDMCommand:
		s.handleDMCommand(ctx, c, req)
	case protocol.TypeRequestResync:
		s.respond(c, req, nil, s.sessions.Resync(ctx, c.UserID()))
	case protocol.TypeChat:
		s.handleChat(ctx, c, req)

	case protocol.TypeCreateCharacter:
		s.handleCreateCharacter(ctx, c, req)
	case protocol.TypeUpdateCharacter:
		s.handleUpdateCharacter(ctx, c, req)
	case protocol.TypeListCharacters:
		s.handleListCharacters(ctx, c, req)

	default:
		c.SendResponse(protocol.ErrorEnvelope(req.Seq, protocol.ErrUnknownType,
			fmt.Sprintf("unknown request type %q", req.Type)))
	}
}

// respond maps an operation result onto the single response for req.
func (s *Server) respond(c *Client, req protocol.Request, payload any, err error) {
	if err == nil {
		c.SendResponse(protocol.OKResponse(req.Type, req.Seq, payload))
		return
	}
	var se *session.Error
	if errors.As(err, &se) {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, se.Code, se.Message))
		return
	}
	s.log.Error("request failed", "type", req.Type, "user", c.UserID(), "error", err)
	c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInternal, "internal error"))
}

func (s *Server) handleCreateGame(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.CreateGame](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	created, err := s.sessions.Create(ctx, c.UserID(), payload.Config)
	s.respond(c, req, created, err)
}

func (s *Server) handleJoinGame(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.JoinGame](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	view, err := s.sessions.Join(ctx, c.UserID(), payload.JoinCode, payload.CharacterID)
	s.respond(c, req, view, err)
}

func (s *Server) handleReady(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.Ready](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	view, err := s.sessions.SetReady(ctx, c.UserID(), payload.IsReady)
	s.respond(c, req, view, err)
}

func (s *Server) handleAction(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.ActionRequest](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	s.respond(c, req, nil, s.sessions.SubmitAction(ctx, c.UserID(), payload.Action))
}

func (s *Server) handleDMCommand(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.DMCommand](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	s.respond(c, req, nil, s.sessions.DMCommand(ctx, c.UserID(), payload))
}

func (s *Server) handleChat(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.Chat](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	s.respond(c, req, nil, s.sessions.Chat(ctx, c.UserID(), payload.Text))
}

func (s *Server) handleCreateCharacter(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.CreateCharacter](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	ch, err := s.store.Characters.Create(ctx, c.UserID(), payload.Persona)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	c.SendResponse(protocol.OKResponse(req.Type, req.Seq, protocol.NewCharacterView(ch)))
}

func (s *Server) handleUpdateCharacter(ctx context.Context, c *Client, req protocol.Request) {
	payload, err := protocol.DecodePayload[protocol.UpdateCharacter](req)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrInvalidPayload, err.Error()))
		return
	}
	persona, err := protocol.DecodePersona(payload.Persona)
	if err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrProgressionReadonly, err.Error()))
		return
	}
	if err := s.store.Characters.UpdatePersona(ctx, payload.CharacterID, c.UserID(), persona); err != nil {
		c.SendResponse(protocol.ErrResponse(req.Type, req.Seq, protocol.ErrCharacterNotOwned, "character not found or not yours"))
		return
	}
	ch, err := s.store.Characters.Get(ctx, payload.CharacterID)
	if err != nil || ch == nil {
		s.respond(c, req, nil, err)
		return
	}
	c.SendResponse(protocol.OKResponse(req.Type, req.Seq, protocol.NewCharacterView(ch)))
}

func (s *Server) handleListCharacters(ctx context.Context, c *Client, req protocol.Request) {
	chars, err := s.store.Characters.ListByUser(ctx, c.UserID())
	if err != nil {
		s.respond(c, req, nil, err)
		return
	}
	views := make([]protocol.CharacterView, 0, len(chars))
	for _, ch := range chars {
		views = append(views, protocol.NewCharacterView(ch))
	}
	c.SendResponse(protocol.OKResponse(req.Type, req.Seq, views))
}
