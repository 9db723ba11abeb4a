package auth

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Notifier delivers outbound email. Delivery is best-effort: callers log
// failures and never roll back already committed state because of them.
type Notifier interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, to, subject, textBody, htmlBody string) error

func (f NotifierFunc) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if f == nil {
		return nil
	}
	return f(ctx, to, subject, textBody, htmlBody)
}

type noopNotifier struct{}

func (noopNotifier) Send(context.Context, string, string, string, string) error {
	return nil
}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

// SocialProfile is the normalized identity a provider hands back after a
// successful code exchange.
type SocialProfile struct {
	Provider          string
	ProviderAccountID string
	Email             string
	EmailVerified     bool
	Name              string
	AvatarURL         string
}

// SocialExchanger trades an authorization code for a verified profile.
// Provider-specific handshake mechanics live behind this capability.
type SocialExchanger interface {
	Name() string
	Exchange(ctx context.Context, code string) (*SocialProfile, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
