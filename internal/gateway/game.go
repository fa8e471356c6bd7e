package gateway

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"matchrelay/internal/match"
	"matchrelay/internal/network"
	"matchrelay/internal/protocol"
)

func handleStartGame(h *Handler, c Client, msg network.Message) {
	var req protocol.StartGame
	if err := msg.Decode(&req); err != nil {
		h.log.Debug("discarding start_game", zap.Error(err))
		return
	}
	ctx := context.Background()

	if req.Username != "" {
		h.release(ctx, c, req.Username)
	}
	res, err := h.game.Join(ctx, c, req.Username, req.AccessToken)
	if err != nil {
		if !errors.Is(err, match.ErrUnauthorized) {
			h.log.Warn("join failed", zap.String("username", req.Username), zap.Error(err))
		}
		return
	}
	c.Bind(req.Username)
	h.log.Debug("start_game handled", zap.String("username", req.Username), zap.Stringer("status", res.Status))
}

func handleGameMove(h *Handler, c Client, msg network.Message) {
	var req protocol.GameMove
	if err := msg.Decode(&req); err != nil {
		h.log.Debug("discarding gameMove", zap.Error(err))
		return
	}
	err := h.game.Move(context.Background(), c, req.Username, req.GameID, req.AccessToken, req.Move)
	if err != nil && !errors.Is(err, match.ErrUnauthorized) {
		h.log.Warn("move failed", zap.String("game", req.GameID), zap.Error(err))
	}
}

func handleGameEnd(h *Handler, c Client, msg network.Message) {
	var req protocol.GameEnd
	if err := msg.Decode(&req); err != nil {
		h.log.Debug("discarding gameEnd", zap.Error(err))
		return
	}
	if req.Result == nil {
		h.log.Debug("discarding gameEnd without result", zap.String("game", req.GameID))
		return
	}
	err := h.game.End(context.Background(), c, req.Username, req.GameID, req.AccessToken, *req.Result)
	switch {
	case err == nil, errors.Is(err, match.ErrUnauthorized):
	case errors.Is(err, match.ErrInvalidOutcome):
		h.log.Debug("discarding gameEnd", zap.String("game", req.GameID), zap.Error(err))
	default:
		h.log.Warn("game end failed", zap.String("game", req.GameID), zap.Error(err))
	}
}
