package services

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"

	"activity/supabase"
	"activity/supabasetest"
)

func newBackend(t *testing.T) (*supabasetest.Server, *supabase.Client) {
	t.Helper()
	srv, err := supabasetest.New()
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	client, err := srv.Client()
	require.NoError(t, err)
	return srv, client
}

func TestSignUpLocalValidationSkipsNetwork(t *testing.T) {
	// A client pointed nowhere: any network call would fail loudly.
	client, err := supabase.New(supabase.Config{
		ProjectURL: "http://127.0.0.1:1",
		AnonKey:    "key",
		Timeout:    100 * time.Millisecond,
	})
	require.NoError(t, err)
	auth := NewAuthService(client)

	_, err = auth.SignUp(context.Background(), gofakeit.Email(), "short", "gopher")
	require.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = auth.SignUp(context.Background(), gofakeit.Email(), "long enough", "")
	require.ErrorIs(t, err, ErrNicknameRequired)
}

func TestSignUpCreatesAccountAndProfile(t *testing.T) {
	srv, client := newBackend(t)
	auth := NewAuthService(client)

	result, err := auth.SignUp(context.Background(), gofakeit.Email(), "secret123", "fresh_nick")
	require.NoError(t, err)
	require.False(t, result.ConfirmationRequired)
	require.NotEmpty(t, result.Session.AccessToken)

	var profile supabasetest.Profile
	require.NoError(t, srv.DB.Where("id = ?", result.Session.User.ID).First(&profile).Error)
	require.Equal(t, "fresh_nick", profile.Nickname)
}

func TestSignUpRejectsTakenNickname(t *testing.T) {
	srv, client := newBackend(t)
	auth := NewAuthService(client)

	_, _, err := srv.SeedUser(gofakeit.Email(), "secret123", "taken_nick")
	require.NoError(t, err)

	available, err := auth.NicknameAvailable(context.Background(), "taken_nick")
	require.NoError(t, err)
	require.False(t, available)

	_, err = auth.SignUp(context.Background(), gofakeit.Email(), "secret123", "taken_nick")
	require.ErrorIs(t, err, ErrNicknameTaken)
}

func TestSignUpConfirmationFlow(t *testing.T) {
	srv, client := newBackend(t)
	srv.RequireEmailConfirmation(true)
	auth := NewAuthService(client)

	result, err := auth.SignUp(context.Background(), gofakeit.Email(), "secret123", "pending_nick")
	require.NoError(t, err)
	require.True(t, result.ConfirmationRequired)
	require.Empty(t, result.Session.AccessToken)

	// The profile row lands even before the email is confirmed.
	var profile supabasetest.Profile
	require.NoError(t, srv.DB.Where("id = ?", result.Session.User.ID).First(&profile).Error)
	require.Equal(t, "pending_nick", profile.Nickname)
}

func TestSignUpRetriesThrottling(t *testing.T) {
	srv, client := newBackend(t)
	srv.RateLimitSignups(1)
	auth := NewAuthService(client)

	started := time.Now()
	result, err := auth.SignUp(context.Background(), gofakeit.Email(), "secret123", "retry_nick")
	require.NoError(t, err)
	require.NotEmpty(t, result.Session.AccessToken)
	require.GreaterOrEqual(t, time.Since(started), signUpBackoffBase)
}

func TestSignInAndProfileGreeting(t *testing.T) {
	srv, client := newBackend(t)
	auth := NewAuthService(client)

	email := gofakeit.Email()
	userID, _, err := srv.SeedUser(email, "secret123", "greeter")
	require.NoError(t, err)

	session, err := auth.SignIn(context.Background(), email, "secret123")
	require.NoError(t, err)

	profile, err := auth.GetProfile(context.Background(), session.AccessToken, userID)
	require.NoError(t, err)
	require.Equal(t, "greeter", profile.Nickname)

	// A missing profile row is a lookup failure, not a credential failure.
	orphanID, token, err := srv.SeedUser(gofakeit.Email(), "secret123", "")
	require.NoError(t, err)
	_, err = auth.GetProfile(context.Background(), token, orphanID)
	require.ErrorIs(t, err, ErrProfileLookup)
}

func TestNormalizeAuthError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"short password", ErrPasswordTooShort, "Password must be at least 6 characters long"},
		{"nickname required", ErrNicknameRequired, "Nickname is required"},
		{"nickname taken", ErrNicknameTaken, "This nickname is already used"},
		{
			"rate limited",
			&supabase.Error{Message: "email rate limit exceeded", StatusCode: 429},
			"Too many attempts. Please wait a moment and try again.",
		},
		{
			"email not confirmed",
			&supabase.Error{Message: "Email not confirmed", StatusCode: 400},
			"Please confirm your email address before signing in.",
		},
		{
			"invalid credentials",
			&supabase.Error{Message: "Invalid login credentials", StatusCode: 400},
			"Invalid email or password",
		},
		{
			"unknown",
			&supabase.Error{Message: "something odd", StatusCode: 500},
			"An unexpected error occurred",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeAuthError(tc.err))
		})
	}
}
