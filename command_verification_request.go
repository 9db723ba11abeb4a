package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type RequestVerificationMessage struct {
	Email string `json:"email"`
}

func (e RequestVerificationMessage) Type() string { return "user.verification.request" }

// RequestVerificationHandler re-sends the email-verify link for unverified
// accounts.
type RequestVerificationHandler struct {
	lifecycle *Lifecycle
}

func NewRequestVerificationHandler(lifecycle *Lifecycle) *RequestVerificationHandler {
	return &RequestVerificationHandler{lifecycle: lifecycle}
}

func (h *RequestVerificationHandler) Execute(ctx context.Context, event RequestVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification request",
		)
	default:
		ctx, cancel := context.WithTimeout(ctx, time.Second*10)
		defer cancel()
		return h.lifecycle.ResendVerification(ctx, event.Email)
	}
}
