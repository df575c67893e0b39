package services

import (
	"context"
	"log"

	"activity/supabase"
)

// SessionService wraps the external auth client. The application never
// owns identity state: it holds a read reference resolved per request.
type SessionService struct {
	client *supabase.Client
}

func NewSessionService(client *supabase.Client) *SessionService {
	return &SessionService{client: client}
}

// Current resolves the user behind an access token. Any failure, including
// transport errors, is treated as "no session" - there is no retry.
func (s *SessionService) Current(ctx context.Context, accessToken string) *supabase.User {
	if accessToken == "" {
		return nil
	}

	user, err := s.client.Auth().GetUser(ctx, accessToken)
	if err != nil {
		log.Println("session lookup failed, treating as no session:", err)
		return nil
	}

	return user
}

// SignOut invalidates the session on the auth service.
func (s *SessionService) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return s.client.Auth().SignOut(ctx, accessToken)
}
