// Package supabase is a client for a Supabase-compatible backend:
// GoTrue auth, PostgREST tables and the realtime change feed.
package supabase

import (
	"strings"
	"time"
)

// Config holds client configuration.
type Config struct {
	// ProjectURL is the project base URL (e.g. https://xxx.supabase.co)
	ProjectURL string

	// AnonKey is the public API key sent with every request.
	AnonKey string

	// Timeout for HTTP requests. Defaults to 30s.
	Timeout time.Duration

	// DefaultHeaders are added to every request.
	DefaultHeaders map[string]string
}

// User represents an auth user.
type User struct {
	ID               string     `json:"id"`
	Aud              string     `json:"aud"`
	Role             string     `json:"role"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Session represents an auth session.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// SignUpRequest for user registration. Data lands in user_metadata.
type SignUpRequest struct {
	Email    string                 `json:"email"`
	Password string                 `json:"password"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// OrderDirection for sorting.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// RealtimeEvent is a single change notification from the realtime feed.
type RealtimeEvent struct {
	Type      string                 `json:"type"`
	Table     string                 `json:"table"`
	Schema    string                 `json:"schema"`
	Record    map[string]interface{} `json:"record,omitempty"`
	OldRecord map[string]interface{} `json:"old_record,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Error represents an API error response.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// IsRateLimit reports whether the error is a throttling response.
func IsRateLimit(err error) bool {
	if e, ok := err.(*Error); ok {
		if e.StatusCode == 429 {
			return true
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

// IsJWTExpired reports whether the error is an expired-credential response.
func IsJWTExpired(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "jwt expired")
}

// IsPermissionDenied reports whether the error is a row-level policy denial.
func IsPermissionDenied(err error) bool {
	if e, ok := err.(*Error); ok {
		if e.StatusCode == 401 || e.StatusCode == 403 {
			return true
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "permission denied")
}

// IsEmailNotConfirmed reports whether sign-in failed on an unconfirmed email.
func IsEmailNotConfirmed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "email not confirmed")
}

// IsInvalidCredentials reports whether sign-in failed on bad email/password.
func IsInvalidCredentials(err error) bool {
	if e, ok := err.(*Error); ok && e.StatusCode == 400 {
		return strings.Contains(strings.ToLower(e.Message), "invalid login credentials")
	}
	return false
}
