package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type DeleteUserMessage struct {
	UserID uuid.UUID `json:"user_id"`
}

func (e DeleteUserMessage) Type() string { return "user.delete" }

// DeleteUserHandler removes a user with the full session and credential
// cascade.
type DeleteUserHandler struct {
	lifecycle *Lifecycle
}

func NewDeleteUserHandler(lifecycle *Lifecycle) *DeleteUserHandler {
	return &DeleteUserHandler{lifecycle: lifecycle}
}

func (h *DeleteUserHandler) Execute(ctx context.Context, event DeleteUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user deletion",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, time.Second*10)
		defer cancel()
		return h.lifecycle.DeleteUser(ctx, event.UserID)
	}
}
