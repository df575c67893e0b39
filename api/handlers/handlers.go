package handlers

import (
	"activity/services"
)

var (
	sessionService  *services.SessionService
	authService     *services.AuthService
	activityService *services.ActivityService
	feedSync        *services.FeedSynchronizer
)

// Init wires the handler package to the running services. Must be called
// before the router starts serving.
func Init(sessions *services.SessionService, auth *services.AuthService, activities *services.ActivityService, feed *services.FeedSynchronizer) {
	sessionService = sessions
	authService = auth
	activityService = activities
	feedSync = feed
}
