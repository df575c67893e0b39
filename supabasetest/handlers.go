package supabasetest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"
)

var errTokenExpired = errors.New("jwt expired")

// tokenUser resolves the Bearer token of a request to its user.
func (s *Server) tokenUser(r *http.Request) (*AuthUser, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	var token AuthToken
	if err := s.DB.Where("token = ?", raw).First(&token).Error; err != nil {
		return nil, errors.New("invalid token")
	}
	if token.Expired {
		return nil, errTokenExpired
	}

	var user AuthUser
	if err := s.DB.Where("id = ?", token.UserID).First(&user).Error; err != nil {
		return nil, errors.New("token user missing")
	}
	return &user, nil
}

func (s *Server) issueSession(user *AuthUser) map[string]interface{} {
	token := randomID()
	s.DB.Create(&AuthToken{Token: token, UserID: user.ID})
	return map[string]interface{}{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": randomID(),
		"user": map[string]interface{}{
			"id":         user.ID,
			"aud":        "authenticated",
			"role":       "authenticated",
			"email":      user.Email,
			"created_at": user.CreatedAt,
			"updated_at": user.CreatedAt,
		},
	}
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.rateLimitSignups > 0 {
		s.rateLimitSignups--
		s.mu.Unlock()
		writeError(w, http.StatusTooManyRequests, "email rate limit exceeded")
		return
	}
	confirm := s.requireConfirmation
	s.mu.Unlock()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid signup payload")
		return
	}

	user := AuthUser{
		ID:           randomID(),
		Email:        req.Email,
		PasswordHash: hashPassword(req.Password),
		Confirmed:    !confirm,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.DB.Create(&user).Error; err != nil {
		writeError(w, http.StatusUnprocessableEntity, "User already registered")
		return
	}

	if confirm {
		// Confirmation flow answers with a bare user, no session.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":         user.ID,
			"aud":        "authenticated",
			"role":       "authenticated",
			"email":      user.Email,
			"created_at": user.CreatedAt,
			"updated_at": user.CreatedAt,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.issueSession(&user))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("grant_type") != "password" {
		writeError(w, http.StatusBadRequest, "unsupported grant type")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid token payload")
		return
	}

	var user AuthUser
	err := s.DB.Where("email = ?", req.Email).First(&user).Error
	if err != nil || !verifyPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusBadRequest, "Invalid login credentials")
		return
	}
	if !user.Confirmed {
		writeError(w, http.StatusBadRequest, "Email not confirmed")
		return
	}
	writeJSON(w, http.StatusOK, s.issueSession(&user))
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.tokenUser(r)
	if err != nil {
		if errors.Is(err, errTokenExpired) {
			writeError(w, http.StatusUnauthorized, "JWT expired")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         user.ID,
		"aud":        "authenticated",
		"role":       "authenticated",
		"email":      user.Email,
		"created_at": user.CreatedAt,
		"updated_at": user.CreatedAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	s.DB.Where("token = ?", raw).Delete(&AuthToken{})
	w.WriteHeader(http.StatusNoContent)
}

// eqFilter extracts the value of a PostgREST "column=eq.value" query param.
func eqFilter(r *http.Request, column string) (string, bool) {
	raw := r.URL.Query().Get(column)
	if strings.HasPrefix(raw, "eq.") {
		return strings.TrimPrefix(raw, "eq."), true
	}
	return "", false
}

func wantsSingleObject(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "vnd.pgrst.object+json")
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := s.DB.Model(&Profile{})
		if id, ok := eqFilter(r, "id"); ok {
			query = query.Where("id = ?", id)
		}
		if nickname, ok := eqFilter(r, "nickname"); ok {
			query = query.Where("nickname = ?", nickname)
		}

		var rows []Profile
		if err := query.Find(&rows).Error; err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if wantsSingleObject(r) {
			if len(rows) != 1 {
				writeError(w, http.StatusNotAcceptable, "JSON object requested, multiple (or no) rows returned")
				return
			}
			writeJSON(w, http.StatusOK, rows[0])
			return
		}
		writeJSON(w, http.StatusOK, rows)

	case http.MethodPost:
		rows, err := decodeRows[Profile](r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid profile payload")
			return
		}
		for _, row := range rows {
			if err := s.DB.Create(&row).Error; err != nil {
				writeJSON(w, http.StatusConflict, map[string]string{
					"code":    "23505",
					"message": `duplicate key value violates unique constraint "profiles_nickname_key"`,
				})
				return
			}
		}
		writeJSON(w, http.StatusCreated, rows)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// decodeRows accepts either one JSON object or an array of them, the two
// insert shapes PostgREST takes.
func decodeRows[T any](r *http.Request) ([]T, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []T
		err := json.Unmarshal(raw, &rows)
		return rows, err
	}
	var row T
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return []T{row}, nil
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	user, err := s.tokenUser(r)
	if err != nil {
		if errors.Is(err, errTokenExpired) {
			writeError(w, http.StatusUnauthorized, "JWT expired")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}

	switch r.Method {
	case http.MethodPost:
		rows, err := decodeRows[Activity](r)
		if err != nil || len(rows) == 0 {
			writeError(w, http.StatusBadRequest, "invalid activity payload")
			return
		}
		created := make([]Activity, 0, len(rows))
		for _, row := range rows {
			// Row policy: inserts must carry the caller's own user id.
			if row.UserID != user.ID {
				writeError(w, http.StatusForbidden, "new row violates row-level security policy")
				return
			}
			row.ID = randomID()
			row.CreatedAt = time.Now().UTC()
			if err := s.DB.Create(&row).Error; err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			created = append(created, row)
			s.broadcastChange("INSERT", row)
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodDelete:
		id, ok := eqFilter(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "delete requires an id filter")
			return
		}
		// Row policy: callers only see (and delete) their own rows.
		var rows []Activity
		if err := s.DB.Where("id = ? AND user_id = ?", id, user.ID).Find(&rows).Error; err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(rows) > 0 {
			if err := s.DB.Where("id = ? AND user_id = ?", id, user.ID).Delete(&Activity{}).Error; err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			for _, row := range rows {
				s.broadcastChange("DELETE", row)
			}
		}
		writeJSON(w, http.StatusOK, rows)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleFeedView(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	failStatus, failBody := s.feedFailStatus, s.feedFailBody
	extra := make([]map[string]interface{}, len(s.feedExtraRows))
	copy(extra, s.feedExtraRows)
	s.mu.Unlock()

	if failStatus != 0 {
		writeError(w, failStatus, failBody)
		return
	}

	type feedRow struct {
		ID           string    `json:"id"`
		Content      string    `json:"content"`
		CreatedAt    time.Time `json:"created_at"`
		UserID       string    `json:"user_id"`
		UserEmail    string    `json:"user_email"`
		UserNickname string    `json:"user_nickname"`
	}

	var rows []feedRow
	err := s.DB.Table("activities").
		Select("activities.id, activities.content, activities.created_at, activities.user_id, auth_users.email AS user_email, profiles.nickname AS user_nickname").
		Joins("LEFT JOIN auth_users ON auth_users.id = activities.user_id").
		Joins("LEFT JOIN profiles ON profiles.id = activities.user_id").
		Order("activities.created_at DESC").
		Scan(&rows).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]interface{}, 0, len(rows)+len(extra))
	for _, row := range rows {
		out = append(out, row)
	}
	for _, row := range extra {
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRealtime speaks just enough of the phoenix-channel protocol for
// the client: join/heartbeat replies plus change broadcasts.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.wsMu.Lock()
	s.wsConns = append(s.wsConns, conn)
	s.wsMu.Unlock()

	go func() {
		defer func() {
			s.wsMu.Lock()
			for i, c := range s.wsConns {
				if c == conn {
					s.wsConns = append(s.wsConns[:i], s.wsConns[i+1:]...)
					break
				}
			}
			s.wsMu.Unlock()
			_ = conn.Close()
		}()

		for {
			var msg struct {
				Topic string `json:"topic"`
				Event string `json:"event"`
				Ref   string `json:"ref"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Event {
			case "phx_join", "heartbeat":
				reply := map[string]interface{}{
					"topic":   msg.Topic,
					"event":   "phx_reply",
					"ref":     msg.Ref,
					"payload": map[string]interface{}{"status": "ok", "response": map[string]interface{}{}},
				}
				s.wsMu.Lock()
				err := conn.WriteJSON(reply)
				s.wsMu.Unlock()
				if err != nil {
					return
				}
			case "phx_leave":
				return
			}
		}
	}()
}

// broadcastChange pushes a change frame to every realtime subscriber.
func (s *Server) broadcastChange(eventType string, row Activity) {
	record := map[string]interface{}{
		"id":         row.ID,
		"content":    row.Content,
		"user_id":    row.UserID,
		"created_at": row.CreatedAt,
	}
	payload := map[string]interface{}{
		"type":             eventType,
		"schema":           "public",
		"table":            "activities",
		"commit_timestamp": time.Now().UTC(),
	}
	if eventType == "DELETE" {
		payload["old_record"] = record
	} else {
		payload["record"] = record
	}
	frame := map[string]interface{}{
		"topic":   "realtime:public:activities",
		"event":   eventType,
		"payload": payload,
		"ref":     "",
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for _, conn := range s.wsConns {
		if err := conn.WriteJSON(frame); err != nil {
			log.Println("realtime broadcast error:", err)
		}
	}
}
