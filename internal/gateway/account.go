package gateway

import (
	"context"

	"go.uber.org/zap"

	"matchrelay/internal/auth"
	"matchrelay/internal/blob"
	"matchrelay/internal/network"
	"matchrelay/internal/protocol"
)

const reasonUsernameInUse = "Username is already in use"

func handleRegister(h *Handler, c Client, msg network.Message) {
	var req protocol.Register
	if err := msg.Decode(&req); err != nil {
		h.reply(c, protocol.NewRegisterFailed("malformed request"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), accountTimeout)
	defer cancel()

	if err := auth.ValidateSignUp(req.Username, req.Email, req.Password); err != nil {
		h.reply(c, protocol.NewRegisterFailed(failureReason(err)))
		return
	}
	if h.game.Online(req.Username) {
		h.reply(c, protocol.NewRegisterFailed(reasonUsernameInUse))
		return
	}

	var photoURL string
	if req.Photo != "" {
		data, err := blob.DecodePhoto(req.Photo)
		if err == nil {
			photoURL, err = h.photos.Upload(ctx, data)
		}
		if err != nil {
			h.log.Warn("photo upload failed", zap.String("username", req.Username), zap.Error(err))
			h.reply(c, protocol.NewRegisterFailed(failureReason(err)))
			return
		}
	}

	if err := h.accounts.SignUp(ctx, req.Username, req.Email, req.Password, photoURL); err != nil {
		h.log.Info("registration rejected", zap.String("username", req.Username), zap.Error(err))
		if photoURL != "" {
			if err := h.photos.Delete(ctx, photoURL); err != nil {
				h.log.Warn("orphaned photo not removed", zap.String("url", photoURL), zap.Error(err))
			}
		}
		h.reply(c, protocol.NewRegisterFailed(failureReason(err)))
		return
	}

	h.bind(ctx, c, req.Username)
	h.game.Attach(c, req.Username)
	h.reply(c, protocol.NewRegisterSuccess())
}

func handleLogin(h *Handler, c Client, msg network.Message) {
	var req protocol.Login
	if err := msg.Decode(&req); err != nil {
		h.reply(c, protocol.NewLoginFailed("malformed request"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), accountTimeout)
	defer cancel()

	pair, photo, err := h.accounts.Login(ctx, req.Username, req.Password)
	if err != nil {
		h.log.Info("login rejected", zap.String("username", req.Username), zap.Error(err))
		h.reply(c, protocol.NewLoginFailed(failureReason(err)))
		return
	}
	h.reply(c, protocol.NewLoginSuccess(pair.AccessToken, pair.RefreshToken, photo))
}

func handleRefreshToken(h *Handler, c Client, msg network.Message) {
	var req protocol.RefreshToken
	if err := msg.Decode(&req); err != nil {
		h.reply(c, protocol.NewRefreshFailed())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), accountTimeout)
	defer cancel()

	pair, err := h.accounts.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.log.Debug("refresh rejected", zap.Error(err))
		h.reply(c, protocol.NewRefreshFailed())
		return
	}
	h.reply(c, protocol.NewRefreshSuccess(pair.AccessToken, pair.RefreshToken))
}
