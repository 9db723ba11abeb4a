package auth

import (
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(lifetime time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		IssuedAt:       now,
		ExpiresAt:      now.Add(lifetime),
		LastActivityAt: now,
	}
}

func TestSessionTokenMinterRoundTrip(t *testing.T) {
	minter := NewSessionTokenMinter([]byte("test-signing-key"), "test-issuer")
	session := testSession(time.Hour)

	signed, err := minter.Mint(session)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := minter.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, session.ID.String(), claims.SID)
	assert.Equal(t, session.UserID.String(), claims.Subject)
	assert.Equal(t, "test-issuer", claims.Issuer)

	id, err := claims.SessionID()
	require.NoError(t, err)
	assert.Equal(t, session.ID, id)
}

func TestSessionTokenMinterRejectsNilSession(t *testing.T) {
	minter := NewSessionTokenMinter([]byte("test-signing-key"), "test-issuer")

	_, err := minter.Mint(nil)
	require.Error(t, err)
}

func TestSessionTokenMinterRejectsWrongKey(t *testing.T) {
	minter := NewSessionTokenMinter([]byte("test-signing-key"), "test-issuer")
	other := NewSessionTokenMinter([]byte("another-key"), "test-issuer")

	signed, err := minter.Mint(testSession(time.Hour))
	require.NoError(t, err)

	_, err = other.Parse(signed)
	assert.True(t, goerrors.Is(err, ErrUnauthorized))
}

func TestSessionTokenMinterRejectsWrongIssuer(t *testing.T) {
	minter := NewSessionTokenMinter([]byte("test-signing-key"), "issuer-a")
	other := NewSessionTokenMinter([]byte("test-signing-key"), "issuer-b")

	signed, err := minter.Mint(testSession(time.Hour))
	require.NoError(t, err)

	_, err = other.Parse(signed)
	assert.True(t, goerrors.Is(err, ErrUnauthorized))
}

func TestSessionTokenMinterExpiredToken(t *testing.T) {
	minter := NewSessionTokenMinter([]byte("test-signing-key"), "test-issuer")

	signed, err := minter.Mint(testSession(-time.Hour))
	require.NoError(t, err)

	_, err = minter.Parse(signed)
	assert.True(t, goerrors.Is(err, ErrSessionExpired))
}

func TestSessionTokenMinterMalformedToken(t *testing.T) {
	minter := NewSessionTokenMinter([]byte("test-signing-key"), "test-issuer")

	_, err := minter.Parse("not.a.jwt")
	assert.True(t, goerrors.Is(err, ErrUnauthorized))

	_, err = minter.Parse("")
	assert.True(t, goerrors.Is(err, ErrUnauthorized))
}

func TestSessionClaimsInvalidSessionID(t *testing.T) {
	claims := &SessionClaims{SID: "not-a-uuid"}

	_, err := claims.SessionID()
	assert.True(t, goerrors.Is(err, ErrUnauthorized))
}
