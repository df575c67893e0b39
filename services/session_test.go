package services

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/require"
)

func TestSessionCurrent(t *testing.T) {
	srv, client := newBackend(t)
	sessions := NewSessionService(client)
	ctx := context.Background()

	email := gofakeit.Email()
	userID, token, err := srv.SeedUser(email, "secret123", "sess_nick")
	require.NoError(t, err)

	user := sessions.Current(ctx, token)
	require.NotNil(t, user)
	require.Equal(t, userID, user.ID)
	require.Equal(t, email, user.Email)

	require.Nil(t, sessions.Current(ctx, ""))
	require.Nil(t, sessions.Current(ctx, "no-such-token"))
}

func TestSessionCurrentTreatsExpiryAsNoSession(t *testing.T) {
	srv, client := newBackend(t)
	sessions := NewSessionService(client)

	_, token, err := srv.SeedUser(gofakeit.Email(), "secret123", "expiring")
	require.NoError(t, err)
	srv.ExpireSessions()

	require.Nil(t, sessions.Current(context.Background(), token))
}

func TestSessionSignOut(t *testing.T) {
	srv, client := newBackend(t)
	sessions := NewSessionService(client)
	ctx := context.Background()

	_, token, err := srv.SeedUser(gofakeit.Email(), "secret123", "leaver")
	require.NoError(t, err)

	require.NoError(t, sessions.SignOut(ctx, token))
	require.Nil(t, sessions.Current(ctx, token))

	// Signing out without a token is a no-op.
	require.NoError(t, sessions.SignOut(ctx, ""))
}
