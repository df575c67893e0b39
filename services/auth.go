package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"activity/models"
	"activity/supabase"
)

const (
	MinPasswordLength = 6

	signUpMaxAttempts = 4
	signUpBackoffBase = time.Second
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrNicknameRequired = errors.New("nickname is required")
	ErrNicknameTaken    = errors.New("nickname already used")
	ErrProfileLookup    = errors.New("profile lookup failed")
)

// AuthService implements the credential flow on top of the external auth
// service and the profiles table.
type AuthService struct {
	client *supabase.Client
}

func NewAuthService(client *supabase.Client) *AuthService {
	return &AuthService{client: client}
}

// SignUpResult is the outcome of a registration attempt.
type SignUpResult struct {
	Session *supabase.Session
	// ConfirmationRequired is set when the auth service created the account
	// but returned no session (email confirmation flow).
	ConfirmationRequired bool
}

// NicknameAvailable checks the profiles table for an exact nickname match.
// The check is advisory: two concurrent sign-ups can both pass it, and only
// a store-level unique constraint can actually prevent duplicates.
func (s *AuthService) NicknameAvailable(ctx context.Context, nickname string) (bool, error) {
	var rows []models.Profile
	err := s.client.Database().
		From("profiles").
		Select("id,nickname").
		Eq("nickname", nickname).
		Limit(1).
		ExecuteInto(ctx, &rows)
	if err != nil {
		return false, fmt.Errorf("nickname check: %w", err)
	}
	return len(rows) == 0, nil
}

// SignUp registers a new account and its profile row.
// The password length gate runs before any network call. Rate-limited
// attempts are retried with exponential backoff up to a fixed cap.
func (s *AuthService) SignUp(ctx context.Context, email, password, nickname string) (*SignUpResult, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if nickname == "" {
		return nil, ErrNicknameRequired
	}

	// Advisory pre-check, re-checked here at submit time.
	available, err := s.NicknameAvailable(ctx, nickname)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrNicknameTaken
	}

	session, err := s.signUpWithBackoff(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if session.User == nil {
		return nil, fmt.Errorf("user creation failed: no user in response")
	}

	// The profile row is a separate insert, not transactionally tied to
	// account creation. When a session exists the insert runs as the new
	// user so the row-level insert policy applies.
	profile := models.Profile{ID: session.User.ID, Nickname: nickname}
	insert := s.client.Database().From("profiles").Insert([]models.Profile{profile})
	if session.AccessToken != "" {
		insert = insert.WithToken(session.AccessToken)
	}
	if _, err := insert.Execute(ctx); err != nil {
		return nil, fmt.Errorf("profile insert: %w", err)
	}

	return &SignUpResult{
		Session:              session,
		ConfirmationRequired: session.AccessToken == "",
	}, nil
}

// signUpWithBackoff retries the auth call while the service is throttling.
func (s *AuthService) signUpWithBackoff(ctx context.Context, email, password string) (*supabase.Session, error) {
	delay := signUpBackoffBase
	var lastErr error

	for attempt := 1; attempt <= signUpMaxAttempts; attempt++ {
		session, err := s.client.Auth().SignUp(ctx, supabase.SignUpRequest{
			Email:    email,
			Password: password,
		})
		if err == nil {
			return session, nil
		}
		if !supabase.IsRateLimit(err) {
			return nil, err
		}

		lastErr = err
		if attempt == signUpMaxAttempts {
			break
		}
		log.Printf("sign-up rate limited, retrying in %s (attempt %d/%d)", delay, attempt, signUpMaxAttempts)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, lastErr
}

// SignIn authenticates with email/password.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*supabase.Session, error) {
	return s.client.Auth().SignInWithPassword(ctx, email, password)
}

// GetProfile fetches the profile row for greeting/display. Failures are
// wrapped in ErrProfileLookup so callers can surface them apart from
// credential errors.
func (s *AuthService) GetProfile(ctx context.Context, accessToken, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.client.Database().
		From("profiles").
		Select("id,nickname").
		Eq("id", userID).
		Single().
		WithToken(accessToken).
		ExecuteInto(ctx, &profile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileLookup, err)
	}
	return &profile, nil
}

// NormalizeAuthError maps known failures to user-facing messages.
// Everything unrecognized falls back to a generic message.
func NormalizeAuthError(err error) string {
	switch {
	case errors.Is(err, ErrPasswordTooShort):
		return fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength)
	case errors.Is(err, ErrNicknameRequired):
		return "Nickname is required"
	case errors.Is(err, ErrNicknameTaken):
		return "This nickname is already used"
	case supabase.IsRateLimit(err):
		return "Too many attempts. Please wait a moment and try again."
	case supabase.IsEmailNotConfirmed(err):
		return "Please confirm your email address before signing in."
	case supabase.IsInvalidCredentials(err):
		return "Invalid email or password"
	case errors.Is(err, ErrProfileLookup):
		return "Signed in, but your profile could not be loaded"
	default:
		return "An unexpected error occurred"
	}
}
