package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims wraps the session id in a signed JWT for transport. The JWT
// carries no authorization state; the session row in the database stays the
// source of truth and revocation takes effect immediately.
type SessionClaims struct {
	jwt.RegisteredClaims
	SID string `json:"sid"`
}

// SessionID parses the session id claim.
func (c *SessionClaims) SessionID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.SID)
	if err != nil {
		return uuid.Nil, ErrUnauthorized
	}
	return id, nil
}

// SessionTokenMinter signs and parses the session transport token.
type SessionTokenMinter struct {
	signingKey []byte
	issuer     string
	logger     Logger
}

func NewSessionTokenMinter(signingKey []byte, issuer string) *SessionTokenMinter {
	return &SessionTokenMinter{
		signingKey: signingKey,
		issuer:     issuer,
		logger:     defLogger{},
	}
}

func (m *SessionTokenMinter) WithLogger(logger Logger) *SessionTokenMinter {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Mint signs a transport token for the session. The JWT expiry mirrors the
// session row's; a renewed session gets a fresh cookie from the guard.
func (m *SessionTokenMinter) Mint(session *Session) (string, error) {
	if session == nil {
		return "", goerrors.New("session must not be nil", goerrors.CategoryInternal)
	}

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
		SID: session.ID.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Parse validates the transport token signature and returns the claims.
// Expired or malformed tokens come back as ErrSessionExpired or
// ErrUnauthorized; the caller still has to validate the session row.
func (m *SessionTokenMinter) Parse(tokenString string) (*SessionClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 1)
	if m.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			m.logger.Error("session token uses unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SID == "" {
		return nil, ErrUnauthorized
	}

	return claims, nil
}
