package auth

import "fmt"

// Mail subjects and plain-text bodies for the lifecycle notifications.
// The HTML rendering, when present, is the mailer's concern.

const (
	SubjectVerifyEmail    = "Verify your email"
	SubjectVerifyNewEmail = "Verify your new email"
	SubjectMagicLink      = "Sign in to your account"
	SubjectResetPassword  = "Reset your password"
)

func verifyEmailBody(url string) string {
	return fmt.Sprintf("Click the link to verify your email address: %s", url)
}

func verifyNewEmailBody(url string) string {
	return fmt.Sprintf("Click the link to verify your new email: %s", url)
}

func magicLinkBody(url string) string {
	return fmt.Sprintf("Click the link to sign in: %s", url)
}

func resetPasswordBody(url string) string {
	return fmt.Sprintf("Click the link to reset your password: %s. If you didn't request this, ignore this email.", url)
}

func (lc *Lifecycle) verifyEmailURL(token string) string {
	return fmt.Sprintf("%s/verify-email?token=%s", lc.baseURL, token)
}

func (lc *Lifecycle) magicLinkURL(token string) string {
	return fmt.Sprintf("%s/magic-link/verify?token=%s", lc.baseURL, token)
}

func (lc *Lifecycle) resetPasswordURL(token string) string {
	return fmt.Sprintf("%s/reset-password?token=%s", lc.baseURL, token)
}
