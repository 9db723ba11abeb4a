package auth

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteCreateUsers = `CREATE TABLE users (
    id TEXT PRIMARY KEY,
    name TEXT,
    email TEXT NOT NULL UNIQUE,
    pending_email TEXT,
    phone TEXT,
    image TEXT,
    password_hash TEXT,
    email_verified INTEGER NOT NULL DEFAULT 0,
    is_admin INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

	sqliteCreateAccounts = `CREATE TABLE accounts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    provider_account_id TEXT NOT NULL,
    email TEXT,
    name TEXT,
    avatar_url TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (provider, provider_account_id)
);`

	sqliteCreateSessions = `CREATE TABLE sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    issued_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    last_activity_at TIMESTAMP NOT NULL,
    ip_address TEXT,
    user_agent TEXT
);`

	sqliteCreateVerificationTokens = `CREATE TABLE verification_tokens (
    id TEXT PRIMARY KEY,
    token TEXT NOT NULL UNIQUE,
    purpose TEXT NOT NULL,
    email TEXT NOT NULL,
    user_id TEXT,
    expires_at TIMESTAMP NOT NULL,
    consumed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
)

func setupTestRepo(t *testing.T) (RepositoryManager, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	for _, stmt := range []string{
		sqliteCreateUsers,
		sqliteCreateAccounts,
		sqliteCreateSessions,
		sqliteCreateVerificationTokens,
	} {
		_, err = bunDB.Exec(stmt)
		require.NoError(t, err)
	}

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	return NewRepositoryManager(bunDB), cleanup
}

func seedUser(t *testing.T, repo RepositoryManager, email, password string, verified bool) *User {
	t.Helper()

	user := &User{
		Email:         email,
		Name:          strings.Split(email, "@")[0],
		EmailVerified: verified,
	}

	if password != "" {
		hash, err := HashPassword(password)
		require.NoError(t, err)
		user.PasswordHash = hash
	}

	created, err := repo.Users().Register(context.Background(), user)
	require.NoError(t, err)

	return created
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recordingNotifier captures outgoing mail so tests can pull tokens out of
// the message bodies.
type recordingNotifier struct {
	mu    sync.Mutex
	sends []sentMail
}

func (n *recordingNotifier) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sentMail{To: to, Subject: subject, Body: textBody})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sends)
}

func (n *recordingNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sends, "expected at least one mail to have been sent")
	return n.sends[len(n.sends)-1]
}

// tokenFromBody pulls the token query value out of a notification body.
func tokenFromBody(t *testing.T, body string) string {
	t.Helper()

	idx := strings.Index(body, "token=")
	require.GreaterOrEqual(t, idx, 0, "no token link in body: %s", body)

	token := body[idx+len("token="):]
	end := strings.IndexFunc(token, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '-' || r == '_':
			return false
		}
		return true
	})
	if end >= 0 {
		token = token[:end]
	}

	require.NotEmpty(t, token)
	return token
}

// recordingSink captures lifecycle activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (s *recordingSink) Record(ctx context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) byType(eventType ActivityEventType) []ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []ActivityEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newTestLifecycle(t *testing.T) (*Lifecycle, RepositoryManager, *recordingNotifier, *recordingSink, func()) {
	t.Helper()

	repo, cleanup := setupTestRepo(t)
	notifier := &recordingNotifier{}
	sink := &recordingSink{}

	cfg := DefaultConfig()
	cfg.BaseURL = "http://localhost:3000"

	lc := NewLifecycle(repo, cfg).
		WithNotifier(notifier).
		WithActivitySink(sink)

	return lc, repo, notifier, sink, cleanup
}
