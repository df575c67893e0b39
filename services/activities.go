package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"activity/models"
	"activity/supabase"
)

var (
	ErrBlankContent   = errors.New("content is empty")
	ErrNoSession      = errors.New("no active session")
	ErrDeleteInFlight = errors.New("delete already in progress")
	ErrNotOwner       = errors.New("post not found or not owned by you")
)

// ActivityService writes and deletes feed entries on behalf of a user.
// Ownership of deletes is enforced by the store's row-level policy; the
// service only passes the user's token through.
type ActivityService struct {
	client *supabase.Client

	// post IDs with a delete in flight, to swallow double submits
	deleting sync.Map
}

func NewActivityService(client *supabase.Client) *ActivityService {
	return &ActivityService{client: client}
}

// Create inserts a new activity for the owner of accessToken.
// The session is re-validated immediately before the insert and the call
// fails closed when it is gone.
func (s *ActivityService) Create(ctx context.Context, accessToken, content string) (*models.Activity, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrBlankContent
	}

	user, err := s.client.Auth().GetUser(ctx, accessToken)
	if err != nil || user == nil {
		return nil, ErrNoSession
	}

	row := map[string]string{
		"content": content,
		"user_id": user.ID,
	}

	var created []models.Activity
	err = s.client.Database().
		From("activities").
		Insert([]map[string]string{row}).
		WithToken(accessToken).
		ExecuteInto(ctx, &created)
	if err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("insert activity: empty response")
	}

	return &created[0], nil
}

// Delete removes an activity by id. The row-level policy restricts the
// delete to the owning user; a delete that matches no row is reported as
// ErrNotOwner. Duplicate submissions for the same id are rejected while
// one is in flight.
func (s *ActivityService) Delete(ctx context.Context, accessToken, activityID string) error {
	if _, inFlight := s.deleting.LoadOrStore(activityID, struct{}{}); inFlight {
		return ErrDeleteInFlight
	}
	defer s.deleting.Delete(activityID)

	var deleted []models.Activity
	err := s.client.Database().
		From("activities").
		Delete().
		Eq("id", activityID).
		WithToken(accessToken).
		ExecuteInto(ctx, &deleted)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if len(deleted) == 0 {
		return ErrNotOwner
	}

	return nil
}
