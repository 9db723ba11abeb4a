package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (e InitializePasswordResetMessage) Type() string { return "user.password_reset.initialize" }

type InitializePasswordResetHandler struct {
	lifecycle *Lifecycle
}

func NewInitializePasswordResetHandler(lifecycle *Lifecycle) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{lifecycle: lifecycle}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, time.Second*10)
		defer cancel()
		return h.lifecycle.RequestPasswordReset(ctx, event.Email)
	}
}

type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

type FinalizePasswordResetHandler struct {
	lifecycle *Lifecycle
}

func NewFinalizePasswordResetHandler(lifecycle *Lifecycle) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{lifecycle: lifecycle}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, time.Second*10)
		defer cancel()
		return h.lifecycle.ResetPassword(ctx, event.Token, event.Password)
	}
}
