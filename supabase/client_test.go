package supabase_test

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

func TestNewRequiresProjectURL(t *testing.T) {
	_, err := supabase.New(supabase.Config{AnonKey: "key"})
	require.Error(t, err)

	_, err = supabase.New(supabase.Config{ProjectURL: "https://example.supabase.co"})
	require.Error(t, err)
}

func TestAuthSignUpAndSignIn(t *testing.T) {
	_, client := newBackend(t)
	ctx := context.Background()

	email := gofakeit.Email()
	session, err := client.Auth().SignUp(ctx, supabase.SignUpRequest{
		Email:    email,
		Password: "secret123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)
	require.NotNil(t, session.User)
	require.Equal(t, email, session.User.Email)

	signedIn, err := client.Auth().SignInWithPassword(ctx, email, "secret123")
	require.NoError(t, err)
	require.NotEmpty(t, signedIn.AccessToken)

	user, err := client.Auth().GetUser(ctx, signedIn.AccessToken)
	require.NoError(t, err)
	require.Equal(t, session.User.ID, user.ID)

	require.NoError(t, client.Auth().SignOut(ctx, signedIn.AccessToken))
	_, err = client.Auth().GetUser(ctx, signedIn.AccessToken)
	require.Error(t, err)
}

func TestAuthSignUpConfirmationFlow(t *testing.T) {
	srv, client := newBackend(t)
	srv.RequireEmailConfirmation(true)

	session, err := client.Auth().SignUp(context.Background(), supabase.SignUpRequest{
		Email:    gofakeit.Email(),
		Password: "secret123",
	})
	require.NoError(t, err)
	require.Empty(t, session.AccessToken)
	require.NotNil(t, session.User, "bare user response must still carry the user")
	require.NotEmpty(t, session.User.ID)
}

func TestAuthErrorClassifiers(t *testing.T) {
	srv, client := newBackend(t)
	ctx := context.Background()

	email := gofakeit.Email()
	_, _, err := srv.SeedUser(email, "secret123", "")
	require.NoError(t, err)

	_, err = client.Auth().SignInWithPassword(ctx, email, "wrong-password")
	require.Error(t, err)
	require.True(t, supabase.IsInvalidCredentials(err))
	require.False(t, supabase.IsRateLimit(err))

	srv.RateLimitSignups(1)
	_, err = client.Auth().SignUp(ctx, supabase.SignUpRequest{
		Email:    gofakeit.Email(),
		Password: "secret123",
	})
	require.Error(t, err)
	require.True(t, supabase.IsRateLimit(err))

	srv.RequireEmailConfirmation(true)
	unconfirmed := gofakeit.Email()
	_, err = client.Auth().SignUp(ctx, supabase.SignUpRequest{
		Email:    unconfirmed,
		Password: "secret123",
	})
	require.NoError(t, err)
	_, err = client.Auth().SignInWithPassword(ctx, unconfirmed, "secret123")
	require.Error(t, err)
	require.True(t, supabase.IsEmailNotConfirmed(err))
}

func TestDatabaseInsertSelectDelete(t *testing.T) {
	srv, client := newBackend(t)
	ctx := context.Background()

	userID, token, err := srv.SeedUser(gofakeit.Email(), "secret123", "gopher")
	require.NoError(t, err)

	type profileRow struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
	}

	var single profileRow
	err = client.Database().
		From("profiles").
		Select("id,nickname").
		Eq("id", userID).
		Single().
		ExecuteInto(ctx, &single)
	require.NoError(t, err)
	require.Equal(t, "gopher", single.Nickname)

	var none []profileRow
	err = client.Database().
		From("profiles").
		Select("id,nickname").
		Eq("nickname", "somebody-else").
		Limit(1).
		ExecuteInto(ctx, &none)
	require.NoError(t, err)
	require.Empty(t, none)

	type activityRow struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		UserID  string `json:"user_id"`
	}

	var created []activityRow
	err = client.Database().
		From("activities").
		Insert([]map[string]string{{"content": "hello", "user_id": userID}}).
		WithToken(token).
		ExecuteInto(ctx, &created)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "hello", created[0].Content)

	var deleted []activityRow
	err = client.Database().
		From("activities").
		Delete().
		Eq("id", created[0].ID).
		WithToken(token).
		ExecuteInto(ctx, &deleted)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
}

func TestInsertRejectsUnmarshalablePayload(t *testing.T) {
	_, client := newBackend(t)

	_, err := client.Database().
		From("activities").
		Insert(map[string]interface{}{"bad": make(chan int)}).
		Execute(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "marshal insert body")
}

func TestDatabaseRowPolicyOnDelete(t *testing.T) {
	srv, client := newBackend(t)
	ctx := context.Background()

	ownerID, _, err := srv.SeedUser(gofakeit.Email(), "secret123", "owner")
	require.NoError(t, err)
	_, otherToken, err := srv.SeedUser(gofakeit.Email(), "secret123", "other")
	require.NoError(t, err)

	row, err := srv.SeedActivity(ownerID, "owned post")
	require.NoError(t, err)

	// Someone else's delete matches no visible row: empty representation.
	var deleted []map[string]interface{}
	err = client.Database().
		From("activities").
		Delete().
		Eq("id", row.ID).
		WithToken(otherToken).
		ExecuteInto(ctx, &deleted)
	require.NoError(t, err)
	require.Empty(t, deleted)
}

func TestRealtimeSubscribeReceivesChanges(t *testing.T) {
	srv, client := newBackend(t)

	userID, _, err := srv.SeedUser(gofakeit.Email(), "secret123", "streamer")
	require.NoError(t, err)

	events := make(chan supabase.RealtimeEvent, 4)
	sub, err := client.Realtime().Subscribe(context.Background(), "public", "activities", func(event supabase.RealtimeEvent) {
		events <- event
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	row, err := srv.SeedActivity(userID, "streamed post")
	require.NoError(t, err)

	select {
	case event := <-events:
		require.Equal(t, supabase.EventInsert, event.Type)
		require.Equal(t, "activities", event.Table)
		require.Equal(t, row.ID, event.Record["id"])
	case <-time.After(3 * time.Second):
		t.Fatal("no realtime event received")
	}
}

func TestRealtimeRedialsAfterTransportDrop(t *testing.T) {
	srv, client := newBackend(t)

	userID, _, err := srv.SeedUser(gofakeit.Email(), "secret123", "survivor")
	require.NoError(t, err)

	events := make(chan supabase.RealtimeEvent, 16)
	sub, err := client.Realtime().Subscribe(context.Background(), "public", "activities", func(event supabase.RealtimeEvent) {
		events <- event
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = srv.SeedActivity(userID, "before the drop")
	require.NoError(t, err)
	select {
	case <-events:
	case <-time.After(3 * time.Second):
		t.Fatal("no event before the drop")
	}

	srv.DropRealtimeConnections()

	// Changes broadcast while disconnected are lost; keep seeding until
	// the redialed subscription picks one up.
	require.Eventually(t, func() bool {
		if _, err := srv.SeedActivity(userID, "after the drop"); err != nil {
			return false
		}
		select {
		case <-events:
			return true
		default:
			return false
		}
	}, 10*time.Second, 300*time.Millisecond)
}

func TestRealtimeDuplicateSubscriptionRejected(t *testing.T) {
	_, client := newBackend(t)

	sub, err := client.Realtime().Subscribe(context.Background(), "public", "activities", func(supabase.RealtimeEvent) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = client.Realtime().Subscribe(context.Background(), "public", "activities", func(supabase.RealtimeEvent) {})
	require.Error(t, err)
}
