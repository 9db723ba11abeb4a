package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	print "github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPController exposes the lifecycle operations as a JSON API.
type HTTPController struct {
	lifecycle *Lifecycle
	guard     *Guard
	logger    Logger

	// Debug dumps bound payloads, never including passwords.
	Debug bool
}

func NewHTTPController(lifecycle *Lifecycle, guard *Guard) *HTTPController {
	return &HTTPController{
		lifecycle: lifecycle,
		guard:     guard,
		logger:    defLogger{},
	}
}

func (c *HTTPController) WithLogger(logger Logger) *HTTPController {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// RegisterRoutes mounts the auth and user routes on the given registrar.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/auth/sign-up", c.SignUp)
	group.Post("/auth/sign-in", c.SignIn)
	group.Post("/auth/sign-out", c.SignOut, c.guard.RequireSession())
	group.Get("/auth/session", c.Session, c.guard.RequireSession())

	group.Get("/auth/verify-email", c.VerifyEmail)
	group.Post("/auth/resend-verification", c.ResendVerification)

	group.Post("/auth/magic-link", c.RequestMagicLink)
	group.Get("/auth/magic-link/verify", c.ConsumeMagicLink)

	group.Post("/auth/forgot-password", c.ForgotPassword)
	group.Post("/auth/reset-password", c.ResetPassword)

	group.Post("/auth/change-email", c.ChangeEmail, c.guard.RequireSession())
	group.Get("/auth/:provider/callback", c.SocialCallback)

	group.Get("/users/profile", c.Profile, c.guard.RequireSession())
	group.Put("/users/profile", c.UpdateProfile, c.guard.RequireSession())

	group.Get("/users", c.ListUsers, c.guard.RequireAdmin())
	group.Get("/users/:id", c.GetUser, c.guard.RequireSession())
	group.Delete("/users/:id", c.DeleteUser, c.guard.RequireSession())
}

// SignUp handles password registration.
func (c *HTTPController) SignUp(ctx router.Context) error {
	payload := new(SignUpInput)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	c.debugPayload("sign-up", map[string]any{"email": payload.Email, "name": payload.Name})

	user, err := c.lifecycle.SignUp(ctx.Context(), *payload)
	if err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"user": user,
	})
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (p signInPayload) Validate() error {
	return wrapValidationError(validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required),
	))
}

// SignIn handles password sign-in and sets the session cookie.
func (c *HTTPController) SignIn(ctx router.Context) error {
	payload := new(signInPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if err := payload.Validate(); err != nil {
		return c.respondError(ctx, err)
	}

	session, user, err := c.lifecycle.SignIn(ctx.Context(), payload.Email, payload.Password, sessionMeta(ctx))
	if err != nil {
		return c.respondError(ctx, err)
	}

	return c.respondSession(ctx, session, user)
}

// SignOut revokes the current session and clears the cookie.
func (c *HTTPController) SignOut(ctx router.Context) error {
	session := CurrentSession(ctx)
	if session != nil {
		if err := c.lifecycle.SignOut(ctx.Context(), session.ID); err != nil {
			return c.respondError(ctx, err)
		}
	}

	c.guard.ClearSessionCookie(ctx)
	return ctx.JSON(router.StatusOK, map[string]string{"status": "signed out"})
}

// Session returns the authenticated user and session expiry.
func (c *HTTPController) Session(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"user":    CurrentUser(ctx),
		"session": CurrentSession(ctx),
	})
}

// VerifyEmail consumes a verify token from the emailed link and signs the
// user in.
func (c *HTTPController) VerifyEmail(ctx router.Context) error {
	token := ctx.Query("token")

	session, user, err := c.lifecycle.VerifyEmail(ctx.Context(), token, sessionMeta(ctx))
	if err != nil {
		return c.respondError(ctx, err)
	}

	return c.respondSession(ctx, session, user)
}

type emailPayload struct {
	Email string `json:"email"`
}

func (p emailPayload) Validate() error {
	return wrapValidationError(validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	))
}

// ResendVerification mails a fresh verification link.
func (c *HTTPController) ResendVerification(ctx router.Context) error {
	payload := new(emailPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if err := payload.Validate(); err != nil {
		return c.respondError(ctx, err)
	}

	if err := c.lifecycle.ResendVerification(ctx.Context(), payload.Email); err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "sent"})
}

// RequestMagicLink mails a single-use sign-in link.
func (c *HTTPController) RequestMagicLink(ctx router.Context) error {
	payload := new(emailPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if err := c.lifecycle.RequestMagicLink(ctx.Context(), payload.Email); err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "sent"})
}

// ConsumeMagicLink redeems the emailed link and signs the user in.
func (c *HTTPController) ConsumeMagicLink(ctx router.Context) error {
	token := ctx.Query("token")

	session, user, err := c.lifecycle.ConsumeMagicLink(ctx.Context(), token, sessionMeta(ctx))
	if err != nil {
		return c.respondError(ctx, err)
	}

	return c.respondSession(ctx, session, user)
}

// ForgotPassword mails a reset link. Always answers 200 so the endpoint
// cannot be used to probe for registered emails.
func (c *HTTPController) ForgotPassword(ctx router.Context) error {
	payload := new(emailPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if err := payload.Validate(); err != nil {
		return c.respondError(ctx, err)
	}

	if err := c.lifecycle.RequestPasswordReset(ctx.Context(), payload.Email); err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "sent"})
}

type resetPasswordPayload struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// ResetPassword consumes a reset token and swaps the password.
func (c *HTTPController) ResetPassword(ctx router.Context) error {
	payload := new(resetPasswordPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if err := c.lifecycle.ResetPassword(ctx.Context(), payload.Token, payload.NewPassword); err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "password updated"})
}

// ChangeEmail records a pending email and mails a verify link to it.
func (c *HTTPController) ChangeEmail(ctx router.Context) error {
	user := CurrentUser(ctx)

	payload := new(emailPayload)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if err := c.lifecycle.RequestEmailChange(ctx.Context(), user.ID, payload.Email); err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "verification sent"})
}

// SocialCallback completes a provider code exchange and signs the user in.
func (c *HTTPController) SocialCallback(ctx router.Context) error {
	provider := ctx.Param("provider")
	code := ctx.Query("code")

	if code == "" {
		return c.respondError(ctx, goerrors.New("missing authorization code", goerrors.CategoryBadInput).
			WithTextCode(TextCodeValidation))
	}

	session, user, err := c.lifecycle.SocialSignIn(ctx.Context(), provider, code, sessionMeta(ctx))
	if err != nil {
		return c.respondError(ctx, err)
	}

	return c.respondSession(ctx, session, user)
}

// Profile returns the authenticated user's profile.
func (c *HTTPController) Profile(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"user": CurrentUser(ctx),
	})
}

// UpdateProfile applies partial profile updates for the current user.
func (c *HTTPController) UpdateProfile(ctx router.Context) error {
	user := CurrentUser(ctx)

	payload := new(UpdateProfileInput)
	if err := ctx.Bind(payload); err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	c.debugPayload("update-profile", payload)

	updated, err := c.lifecycle.UpdateProfile(ctx.Context(), user.ID, *payload)
	if err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{"user": updated})
}

// ListUsers returns a page of users. Admin only.
func (c *HTTPController) ListUsers(ctx router.Context) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))
	offset, _ := strconv.Atoi(ctx.Query("offset", "0"))

	users, total, err := c.lifecycle.ListUsers(ctx.Context(), limit, offset)
	if err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"users": users,
		"total": total,
	})
}

// GetUser returns a single user by id. Any authenticated caller may look
// up a user; listing and deleting other users stays admin-gated.
func (c *HTTPController) GetUser(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	user, err := c.lifecycle.GetUser(ctx.Context(), id)
	if err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{"user": user})
}

// DeleteUser removes a user with the full cascade. Admins may delete
// anyone; everyone else only themselves.
func (c *HTTPController) DeleteUser(ctx router.Context) error {
	current := CurrentUser(ctx)

	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return c.respondError(ctx, badRequest(err))
	}

	if !current.IsAdmin && current.ID != id {
		return c.respondError(ctx, ErrForbidden)
	}

	if err := c.lifecycle.DeleteUser(ctx.Context(), id); err != nil {
		return c.respondError(ctx, err)
	}

	if current.ID == id {
		c.guard.ClearSessionCookie(ctx)
	}

	return ctx.JSON(router.StatusOK, map[string]string{"status": "deleted"})
}

func (c *HTTPController) respondSession(ctx router.Context, session *Session, user *User) error {
	if err := c.guard.SetSessionCookie(ctx, session); err != nil {
		return c.respondError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"user":    user,
		"session": session,
	})
}

func (c *HTTPController) respondError(ctx router.Context, err error) error {
	status := statusForError(err)
	if status == router.StatusInternalServerError {
		c.logger.Error("request failed: %v", err)
	}
	return ctx.JSON(status, errorPayload(err))
}

func (c *HTTPController) debugPayload(label string, payload any) {
	if !c.Debug {
		return
	}
	fmt.Println("======= AUTH " + label + " =======")
	fmt.Println(print.MaybePrettyJSON(payload))
	fmt.Println("=================================")
}

func sessionMeta(ctx router.Context) SessionMeta {
	ip := ctx.Header("X-Forwarded-For")
	if idx := strings.IndexByte(ip, ','); idx >= 0 {
		ip = strings.TrimSpace(ip[:idx])
	}
	if ip == "" {
		ip = ctx.Header("X-Real-IP")
	}

	return SessionMeta{
		IPAddress: ip,
		UserAgent: ctx.Header("User-Agent"),
	}
}

func badRequest(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request payload").
		WithTextCode(TextCodeValidation)
}

// statusForError maps the error taxonomy onto HTTP statuses. Anything
// unrecognized is an internal error and stays opaque to the client.
func statusForError(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return router.StatusInternalServerError
	}

	switch rich.Category {
	case goerrors.CategoryAuth:
		return router.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return router.StatusForbidden
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return router.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return router.StatusInternalServerError
	}
}

func errorPayload(err error) map[string]any {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		body := map[string]any{"error": rich.Message}
		if rich.TextCode != "" {
			body["code"] = rich.TextCode
		}
		if statusForError(err) == router.StatusInternalServerError {
			body["error"] = "internal server error"
			delete(body, "code")
		}
		return body
	}

	return map[string]any{"error": "internal server error"}
}
