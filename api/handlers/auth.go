package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"activity/services"
	"activity/supabase"
)

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Nickname string `json:"nickname" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// failJSON is the error envelope of the credential endpoints. The cue
// field tells clients to play the transient shake animation.
func failJSON(message string) gin.H {
	return gin.H{"error": message, "cue": "shake"}
}

// Register handles sign-up. Local validation errors never reach the auth
// service; throttling is retried with backoff inside the service before a
// user-facing message is returned.
func Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failJSON("Invalid request"))
		return
	}

	result, err := authService.SignUp(c.Request.Context(), req.Email, req.Password, req.Nickname)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case supabase.IsRateLimit(err):
			status = http.StatusTooManyRequests
		case errors.Is(err, services.ErrPasswordTooShort),
			errors.Is(err, services.ErrNicknameTaken),
			errors.Is(err, services.ErrNicknameRequired):
			status = http.StatusBadRequest
		default:
			status = http.StatusBadGateway
		}
		c.JSON(status, failJSON(services.NormalizeAuthError(err)))
		return
	}

	if result.ConfirmationRequired {
		c.JSON(http.StatusOK, gin.H{
			"status":  "confirmation_required",
			"message": "Sign up successful! Please check your email for verification.",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":  "ok",
		"user_id": result.Session.User.ID,
		"session": result.Session,
	})
}

// Login handles password sign-in. The profile is fetched for greeting;
// its failure is reported apart from credential errors.
func Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, failJSON("Invalid request"))
		return
	}

	session, err := authService.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		if supabase.IsRateLimit(err) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, failJSON(services.NormalizeAuthError(err)))
		return
	}

	resp := gin.H{
		"status":  "ok",
		"session": session,
	}
	if session.User != nil {
		profile, perr := authService.GetProfile(c.Request.Context(), session.AccessToken, session.User.ID)
		if perr != nil {
			resp["profile_error"] = services.NormalizeAuthError(perr)
		} else {
			resp["nickname"] = profile.Nickname
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Logout invalidates the current session on the auth service.
func Logout(c *gin.Context) {
	token := c.GetString("access_token")
	if err := sessionService.SignOut(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Sign out failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

// Session returns the identity of the current viewer. The UI gates
// everything behind this call.
func Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id": c.GetString("user_id"),
		"email":   c.GetString("user_email"),
	})
}

// CheckNickname reports nickname availability. Advisory only: the result
// can be stale by the time the sign-up lands.
func CheckNickname(c *gin.Context) {
	nickname := c.Query("nickname")
	if nickname == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname query parameter is required"})
		return
	}

	available, err := authService.NicknameAvailable(c.Request.Context(), nickname)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Nickname check failed"})
		return
	}

	resp := gin.H{"nickname": nickname, "available": available}
	if !available {
		resp["error"] = "This nickname is already used"
	}
	c.JSON(http.StatusOK, resp)
}
