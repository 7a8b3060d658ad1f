// Package autherr maps failures from the auth service and the profile store
// onto a fixed set of user-facing categories. Raw backend text never leaves
// this package; only the category message does.
package autherr

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/dimitrije/mise-api/internal/authclient"
	"github.com/dimitrije/mise-api/internal/profiles"
	"github.com/jackc/pgx/v5/pgconn"
)

type Category string

const (
	CategoryCaptchaFailed         Category = "captcha_failed"
	CategoryInvalidCredentials    Category = "invalid_credentials"
	CategoryUnconfirmedEmail      Category = "unconfirmed_email"
	CategoryRateLimited           Category = "rate_limited"
	CategoryAccountMissing        Category = "account_missing"
	CategoryAlreadyRegistered     Category = "already_registered"
	CategorySignupDisabled        Category = "signup_disabled"
	CategoryInvalidEmail          Category = "invalid_email"
	CategoryWeakPassword          Category = "weak_password"
	CategoryBackendNotProvisioned Category = "backend_not_provisioned"
	CategoryUnknown               Category = "unknown"
)

var messages = map[Category]string{
	CategoryCaptchaFailed:         "🛡️ Security verification failed. Disable captcha protection for this project or complete the verification and try again.",
	CategoryInvalidCredentials:    "🔑 Incorrect email or password.",
	CategoryUnconfirmedEmail:      "📧 Please confirm your email address before signing in. Check your inbox for the confirmation link.",
	CategoryRateLimited:           "⏳ Too many attempts. Please wait a few minutes and try again.",
	CategoryAccountMissing:        "👤 No account exists with this email address.",
	CategoryAlreadyRegistered:     "📝 An account with this email already exists. Try signing in instead.",
	CategorySignupDisabled:        "🚫 New registrations are currently closed.",
	CategoryInvalidEmail:          "✉️ Please enter a valid email address.",
	CategoryWeakPassword:          "🔒 Password is too weak. Use at least 6 characters.",
	CategoryBackendNotProvisioned: "🛠️ The backend is not fully set up yet. Please contact an administrator.",
	CategoryUnknown:               "⚠️ Something went wrong. Please try again.",
}

// Message returns the user-facing text for c.
func Message(c Category) string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CategoryUnknown]
}

// Raw is the one error shape the classifier understands.
type Raw struct {
	Message string
	Code    string
	Status  int
}

// Normalize flattens the error shapes produced by the auth client, the
// Postgres driver and the profile store into a Raw.
func Normalize(err error) Raw {
	if err == nil {
		return Raw{}
	}

	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) {
		return Raw{Message: apiErr.Message, Code: apiErr.Code, Status: apiErr.Status}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return Raw{Message: pgErr.Message, Code: pgErr.Code}
	}

	if errors.Is(err, profiles.ErrTableMissing) {
		return Raw{Message: err.Error(), Code: "42P01"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Raw{Message: err.Error(), Status: http.StatusGatewayTimeout}
	}

	return Raw{Message: err.Error()}
}

// Classify normalizes err and maps it. fallback replaces the generic message
// for unmatched errors when it is not empty.
func Classify(err error, fallback string) (Category, string) {
	return ClassifyRaw(Normalize(err), fallback)
}

// ClassifyString classifies a bare message.
func ClassifyString(msg, fallback string) (Category, string) {
	return ClassifyRaw(Raw{Message: msg}, fallback)
}

func ClassifyRaw(raw Raw, fallback string) (Category, string) {
	c := categorize(raw)
	if c == CategoryUnknown && fallback != "" {
		return c, fallback
	}
	return c, Message(c)
}

type rule struct {
	category Category
	patterns []string
	statuses []int
}

// Order matters: the first matching rule wins. The message is checked
// against every rule before the code, and the code before the status, since
// legacy bodies pair a generic code like invalid_grant with a specific
// message. A "*" in a pattern matches any text between its parts.
var rules = []rule{
	{CategoryCaptchaFailed, []string{"captcha"}, nil},
	{CategoryInvalidCredentials, []string{"invalid login credentials", "invalid credentials", "invalid_credentials", "invalid_grant", "invalid login"}, nil},
	{CategoryUnconfirmedEmail, []string{"email not confirmed", "email_not_confirmed"}, nil},
	{CategoryRateLimited, []string{"rate limit", "rate_limit", "too many requests"}, []int{http.StatusTooManyRequests}},
	{CategoryAccountMissing, []string{"user not found", "user_not_found"}, nil},
	{CategoryAlreadyRegistered, []string{"already registered", "already been registered", "user_already_exists", "email_exists"}, nil},
	{CategorySignupDisabled, []string{"signup disabled", "signups not allowed", "signup_disabled"}, nil},
	{CategoryInvalidEmail, []string{"invalid email", "unable to validate email", "email_address_invalid", "invalid format"}, nil},
	{CategoryWeakPassword, []string{"password should be at least", "password is too short", "weak password", "weak_password"}, nil},
	{CategoryBackendNotProvisioned, []string{"42p01", "3f000", "pgrst205", "pgrst106", "relation*does not exist", "could not find the table", "schema cache"}, nil},
}

func categorize(raw Raw) Category {
	for _, text := range []string{raw.Message, raw.Code} {
		if c, ok := matchText(strings.ToLower(text)); ok {
			return c
		}
	}

	for _, r := range rules {
		for _, s := range r.statuses {
			if raw.Status == s {
				return r.category
			}
		}
	}
	return CategoryUnknown
}

func matchText(text string) (Category, bool) {
	if text == "" {
		return CategoryUnknown, false
	}
	for _, r := range rules {
		for _, p := range r.patterns {
			if matches(text, p) {
				return r.category, true
			}
		}
	}
	return CategoryUnknown, false
}

func matches(text, pattern string) bool {
	for _, part := range strings.Split(pattern, "*") {
		i := strings.Index(text, part)
		if i < 0 {
			return false
		}
		text = text[i+len(part):]
	}
	return true
}
