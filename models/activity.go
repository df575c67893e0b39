package models

import (
	"errors"
	"fmt"
	"time"
)

// Activity - one enriched feed entry: a post joined with its author's
// nickname and email, as served by the activity_feed view.
type Activity struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"created_at"`
	UserID       string    `json:"user_id"`
	UserEmail    string    `json:"user_email"`
	UserNickname string    `json:"user_nickname,omitempty"`
}

// DisplayName is the author label shown next to an entry.
func (a Activity) DisplayName() string {
	if a.UserNickname != "" {
		return a.UserNickname
	}
	return a.UserEmail
}

var (
	ErrEmptyContent = errors.New("activity has empty content")
	ErrNoTimestamp  = errors.New("activity has no creation timestamp")
)

// Validate checks the integrity of a single fetched record.
func (a Activity) Validate() error {
	if a.Content == "" {
		return ErrEmptyContent
	}
	if a.CreatedAt.IsZero() {
		return ErrNoTimestamp
	}
	return nil
}

// ValidateBatch rejects a whole fetch result if any record is malformed.
// Partial acceptance is deliberately not done: rendering a filtered subset
// would hide store corruption instead of surfacing it.
func ValidateBatch(activities []Activity) error {
	for i, a := range activities {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("record %d (id=%s): %w", i, a.ID, err)
		}
	}
	return nil
}

// Profile - display profile row, one-to-one with an auth user.
type Profile struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// FeedEntry - an activity annotated for one viewer.
type FeedEntry struct {
	Activity
	CanDelete bool `json:"can_delete"`
}

// FeedResponse - API response for the feed.
type FeedResponse struct {
	Entries []FeedEntry `json:"entries"`
	Loading bool        `json:"loading"`
	Error   string      `json:"error,omitempty"`
}
