// Package supabasetest runs an in-process stand-in for the hosted backend:
// password auth, the activities/profiles tables behind PostgREST-style
// endpoints, the enriched activity_feed view and the realtime change feed.
// It backs the integration tests; nothing here ships in the gateway.
package supabasetest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/argon2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"activity/supabase"
)

// AuthUser is an account row of the fake auth service.
type AuthUser struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex"`
	PasswordHash string
	Confirmed    bool
	CreatedAt    time.Time
}

func (AuthUser) TableName() string { return "auth_users" }

// AuthToken maps an access token to its user.
type AuthToken struct {
	Token   string `gorm:"primaryKey"`
	UserID  string `gorm:"index"`
	Expired bool
}

func (AuthToken) TableName() string { return "auth_tokens" }

// Profile mirrors the profiles table, nickname unique at store level.
type Profile struct {
	ID       string `gorm:"primaryKey" json:"id"`
	Nickname string `gorm:"uniqueIndex" json:"nickname"`
}

func (Profile) TableName() string { return "profiles" }

// Activity mirrors the activities table.
type Activity struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Content   string    `json:"content"`
	UserID    string    `gorm:"index" json:"user_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (Activity) TableName() string { return "activities" }

// Server is the fake backend. Behavior knobs are safe to set from the
// test goroutine while requests are in flight.
type Server struct {
	HTTP *httptest.Server
	DB   *gorm.DB

	mu sync.Mutex
	// remaining signup responses answered with 429
	rateLimitSignups int
	// when set, signup answers with a bare user and no session
	requireConfirmation bool
	// when set, feed view responses fail with this error body/status
	feedFailStatus int
	feedFailBody   string
	// extra rows appended to feed responses, for malformed-batch tests
	feedExtraRows []map[string]interface{}

	wsMu    sync.Mutex
	wsConns []*websocket.Conn

	upgrader websocket.Upgrader
}

// New starts the fake backend on a random port.
func New() (*Server, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", randomID())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&AuthUser{}, &AuthToken{}, &Profile{}, &Activity{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Server{
		DB: db,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("/auth/v1/token", s.handleToken)
	mux.HandleFunc("/auth/v1/user", s.handleUser)
	mux.HandleFunc("/auth/v1/logout", s.handleLogout)
	mux.HandleFunc("/rest/v1/profiles", s.handleProfiles)
	mux.HandleFunc("/rest/v1/activities", s.handleActivities)
	mux.HandleFunc("/rest/v1/activity_feed", s.handleFeedView)
	mux.HandleFunc("/realtime/v1/websocket", s.handleRealtime)

	s.HTTP = httptest.NewServer(mux)
	return s, nil
}

// Close stops the server and drops the websocket connections.
func (s *Server) Close() {
	s.wsMu.Lock()
	for _, conn := range s.wsConns {
		_ = conn.Close()
	}
	s.wsConns = nil
	s.wsMu.Unlock()
	s.HTTP.Close()
}

// Client returns a supabase client pointed at this server.
func (s *Server) Client() (*supabase.Client, error) {
	return supabase.New(supabase.Config{
		ProjectURL: s.HTTP.URL,
		AnonKey:    "test-anon-key",
		Timeout:    5 * time.Second,
	})
}

// RateLimitSignups makes the next n signup attempts answer 429.
func (s *Server) RateLimitSignups(n int) {
	s.mu.Lock()
	s.rateLimitSignups = n
	s.mu.Unlock()
}

// RequireEmailConfirmation switches signup into the confirmation flow.
func (s *Server) RequireEmailConfirmation(on bool) {
	s.mu.Lock()
	s.requireConfirmation = on
	s.mu.Unlock()
}

// FailFeedWith makes feed view fetches fail until cleared with status 0.
func (s *Server) FailFeedWith(status int, body string) {
	s.mu.Lock()
	s.feedFailStatus = status
	s.feedFailBody = body
	s.mu.Unlock()
}

// AppendFeedRow injects a raw row into subsequent feed responses.
func (s *Server) AppendFeedRow(row map[string]interface{}) {
	s.mu.Lock()
	s.feedExtraRows = append(s.feedExtraRows, row)
	s.mu.Unlock()
}

// DropRealtimeConnections closes every realtime connection server-side,
// simulating a transport failure. Clients are expected to redial.
func (s *Server) DropRealtimeConnections() {
	s.wsMu.Lock()
	for _, conn := range s.wsConns {
		_ = conn.Close()
	}
	s.wsConns = nil
	s.wsMu.Unlock()
}

// ExpireSessions marks every issued token as expired, so the next
// authorized call fails with a JWT-expired error.
func (s *Server) ExpireSessions() {
	s.DB.Model(&AuthToken{}).Where("1 = 1").Update("expired", true)
}

// SeedUser registers a confirmed user directly and returns its id and a
// valid access token.
func (s *Server) SeedUser(email, password, nickname string) (userID, token string, err error) {
	userID = randomID()
	user := AuthUser{
		ID:           userID,
		Email:        email,
		PasswordHash: hashPassword(password),
		Confirmed:    true,
		CreatedAt:    time.Now().UTC(),
	}
	if err = s.DB.Create(&user).Error; err != nil {
		return "", "", err
	}
	if nickname != "" {
		if err = s.DB.Create(&Profile{ID: userID, Nickname: nickname}).Error; err != nil {
			return "", "", err
		}
	}
	token = randomID()
	if err = s.DB.Create(&AuthToken{Token: token, UserID: userID}).Error; err != nil {
		return "", "", err
	}
	return userID, token, nil
}

// SeedActivity inserts a post directly and notifies realtime subscribers.
func (s *Server) SeedActivity(userID, content string) (Activity, error) {
	row := Activity{
		ID:        randomID(),
		Content:   content,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.DB.Create(&row).Error; err != nil {
		return Activity{}, err
	}
	s.broadcastChange("INSERT", row)
	return row, nil
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// hashPassword matches the salt$hash argon2id layout used elsewhere in
// the stack.
func hashPassword(password string) string {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(hash)
}

func verifyPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)
	return hex.EncodeToString(hash) == parts[1]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
