package auth

import (
	"strings"
	"time"

	"github.com/goliatone/go-router"
)

const (
	// DefaultSessionCookie is the cookie carrying the signed session token.
	DefaultSessionCookie = "auth_session"

	// ContextUserKey and ContextSessionKey are the router locals set by the
	// guard for downstream handlers.
	ContextUserKey    = "auth:user"
	ContextSessionKey = "auth:session"
)

// Guard is the per-request authorization check. It resolves the session
// token from the cookie or Authorization header, validates the session row,
// and threads the resolved user into the request explicitly.
type Guard struct {
	sessions   *SessionManager
	users      Users
	minter     *SessionTokenMinter
	logger     Logger
	cookieName string
}

func NewGuard(sessions *SessionManager, users Users, minter *SessionTokenMinter) *Guard {
	return &Guard{
		sessions:   sessions,
		users:      users,
		minter:     minter,
		logger:     defLogger{},
		cookieName: DefaultSessionCookie,
	}
}

func (g *Guard) WithLogger(logger Logger) *Guard {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// WithCookieName overrides the session cookie name.
func (g *Guard) WithCookieName(name string) *Guard {
	if name != "" {
		g.cookieName = name
	}
	return g
}

// CookieName returns the session cookie name in use.
func (g *Guard) CookieName() string {
	return g.cookieName
}

// RequireSession rejects requests without a valid session and stores the
// resolved user and session in the router locals.
func (g *Guard) RequireSession() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			session, user, err := g.resolve(ctx)
			if err != nil {
				return unauthorizedResponse(ctx, err)
			}

			ctx.Locals(ContextSessionKey, session)
			ctx.Locals(ContextUserKey, user)

			return hf(ctx)
		}
	}
}

// RequireAdmin behaves like RequireSession and additionally rejects
// non-admin users with Forbidden.
func (g *Guard) RequireAdmin() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			session, user, err := g.resolve(ctx)
			if err != nil {
				return unauthorizedResponse(ctx, err)
			}

			if !user.IsAdmin {
				return ctx.JSON(router.StatusForbidden, errorPayload(ErrForbidden))
			}

			ctx.Locals(ContextSessionKey, session)
			ctx.Locals(ContextUserKey, user)

			return hf(ctx)
		}
	}
}

// SetSessionCookie writes the signed session token as an HTTP-only cookie.
func (g *Guard) SetSessionCookie(ctx router.Context, session *Session) error {
	token, err := g.minter.Mint(session)
	if err != nil {
		return err
	}

	ctx.Cookie(&router.Cookie{
		Name:     g.cookieName,
		Value:    token,
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})

	return nil
}

// ClearSessionCookie expires the session cookie.
func (g *Guard) ClearSessionCookie(ctx router.Context) {
	ctx.Cookie(&router.Cookie{
		Name:     g.cookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * 24 * 365),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (g *Guard) resolve(ctx router.Context) (*Session, *User, error) {
	raw := g.extractToken(ctx)
	if raw == "" {
		return nil, nil, ErrUnauthorized
	}

	claims, err := g.minter.Parse(raw)
	if err != nil {
		return nil, nil, err
	}

	sid, err := claims.SessionID()
	if err != nil {
		return nil, nil, err
	}

	session, err := g.sessions.Validate(ctx.Context(), sid)
	if err != nil {
		return nil, nil, err
	}

	user, err := g.users.GetByIdentifier(ctx.Context(), session.UserID.String())
	if err != nil {
		g.logger.Warn("session %s references missing user %s", session.ID, session.UserID)
		return nil, nil, ErrSessionNotFound
	}

	g.touch(ctx, session)

	return session, user, nil
}

// touch slides stale sessions forward and refreshes the cookie so the
// client's expiry tracks the renewed row.
func (g *Guard) touch(ctx router.Context, session *Session) {
	now := time.Now()
	if now.Sub(session.LastActivityAt) < g.sessions.UpdateAge() {
		return
	}

	if err := g.sessions.Touch(ctx.Context(), session.ID); err != nil {
		g.logger.Warn("failed to renew session %s: %v", session.ID, err)
		return
	}

	session.ExpiresAt = now.Add(g.sessions.Lifetime())
	session.LastActivityAt = now

	if err := g.SetSessionCookie(ctx, session); err != nil {
		g.logger.Warn("failed to refresh session cookie: %v", err)
	}
}

func (g *Guard) extractToken(ctx router.Context) string {
	if cookie := ctx.Cookies(g.cookieName, ""); cookie != "" {
		return cookie
	}

	header := ctx.GetString(router.HeaderAuthorization, "")
	const scheme = "Bearer"
	if len(header) > len(scheme)+1 && strings.EqualFold(header[:len(scheme)], scheme) {
		return strings.TrimSpace(header[len(scheme):])
	}

	return ""
}

// CurrentUser returns the user stored by the guard, or nil.
func CurrentUser(ctx router.Context) *User {
	user, _ := ctx.Locals(ContextUserKey).(*User)
	return user
}

// CurrentSession returns the session stored by the guard, or nil.
func CurrentSession(ctx router.Context) *Session {
	session, _ := ctx.Locals(ContextSessionKey).(*Session)
	return session
}

func unauthorizedResponse(ctx router.Context, err error) error {
	status := router.StatusUnauthorized
	if err == nil {
		err = ErrUnauthorized
	}
	return ctx.JSON(status, errorPayload(err))
}
