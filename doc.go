// Package auth implements the identity and session backend: password,
// social, and magic-link sign-in, DB-backed sessions, account linking,
// and the transactional lifecycle around user records.
//
// Sessions:
//   - Sessions are server-side rows with a fixed lifetime and a rolling
//     last-activity timestamp. Touch slides the expiry forward once the
//     session is older than the configured update age; the session id
//     never changes. The HTTP layer transports the session id inside a
//     signed JWT cookie, but the database row is the source of truth.
//
// Verification tokens:
//   - Email verification, password reset, and magic-link sign-in all run
//     through single-use VerificationToken rows. Consumption is a single
//     conditional update inside a transaction, so two concurrent requests
//     presenting the same token resolve to exactly one winner.
//
// Account linking:
//   - When a social profile or password sign-up matches an existing user
//     by email, the AccountLinker decides whether to attach the credential
//     or refuse. Linking across differing emails requires the existing
//     account's email to be verified, and only trusted providers may
//     auto-link.
//
// Lifecycle:
//   - The Lifecycle controller orchestrates the flows (sign-up, sign-in,
//     magic link, email change, password reset, social callback, cascading
//     deletion) on top of the RepositoryManager's transaction boundary.
//     Outbound mail is best-effort through the Notifier capability and
//     never rolls back committed state.
package auth
