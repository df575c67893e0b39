package services

import (
	"encoding/json"
	"time"
)

// FeedChangedNotify is pushed to every connected client after the
// synchronizer replaced the feed list. Clients re-render from GET /feed;
// the push carries no entries on purpose.
type FeedChangedNotify struct {
	Event   string    `json:"event"`
	Entries int       `json:"entries"`
	At      time.Time `json:"at"`
}

// PushFeedChanged broadcasts a feed_changed event over websocket.
func PushFeedChanged(entryCount int) error {
	notify := FeedChangedNotify{
		Event:   "feed_changed",
		Entries: entryCount,
		At:      time.Now(),
	}
	jsonData, err := json.Marshal(notify)
	if err != nil {
		return err
	}
	GlobalWSConnManager.Broadcast(jsonData)
	return nil
}
