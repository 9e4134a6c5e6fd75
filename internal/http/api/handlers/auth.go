package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/raevmood/devicefinder/internal/config"
	dbutil "github.com/raevmood/devicefinder/internal/db"
	"github.com/raevmood/devicefinder/internal/models"
	"github.com/raevmood/devicefinder/internal/ratelimit"
	"github.com/raevmood/devicefinder/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// QuotaReporter reports a user's rate limit state without consuming budget.
type QuotaReporter interface {
	Status(ctx context.Context, userID uint64) (ratelimit.Result, error)
}

// AuthHandler serves registration, login and the current-user endpoint.
type AuthHandler struct {
	db     *gorm.DB
	jwtCfg config.JWTConfig
	quota  QuotaReporter
	nowFn  func() time.Time
}

// NewAuthHandler constructs an AuthHandler. quota may be nil.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig, quota QuotaReporter) *AuthHandler {
	return &AuthHandler{db: db, jwtCfg: jwtCfg, quota: quota, nowFn: time.Now}
}

// registerRequest defines the request body for registration.
type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=100"`
}

// loginRequest accepts JSON or form encoded credentials.
type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Register creates a user account.
func (h *AuthHandler) Register(c *gin.Context) {
	var body registerRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(errBind)})
		return
	}
	username := strings.TrimSpace(body.Username)
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if len(username) < 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be at least 3 characters"})
		return
	}

	ctx := c.Request.Context()
	var existing int64
	errCount := h.db.WithContext(ctx).Model(&models.User{}).
		Where(dbutil.CaseInsensitiveEqualExpr("username")+" OR email = ?", username, email).
		Count(&existing).Error
	if errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already registered"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	now := h.nowFn().UTC()
	user := models.User{
		Username:  username,
		Email:     email,
		Password:  hash,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(ctx).Create(&user).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "username or email already registered"})
			return
		}
		log.WithError(errCreate).Error("auth: create user failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	log.WithField("user_id", user.ID).Info("auth: user registered")
	c.JSON(http.StatusCreated, userJSON(user))
}

// Login exchanges credentials for a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBind(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username or password"})
		return
	}

	ctx := c.Request.Context()
	var user models.User
	errFind := h.db.WithContext(ctx).
		Where(dbutil.CaseInsensitiveEqualExpr("username"), username).
		First(&user).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !security.CheckPassword(user.Password, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect username or password"})
		return
	}
	if !user.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "user disabled"})
		return
	}

	now := h.nowFn().UTC()
	token, expiresAt, errToken := security.IssueUserToken(h.jwtCfg.Secret, user.ID, user.Username, h.jwtCfg.Expiry, now)
	if errToken != nil {
		log.WithError(errToken).Error("auth: issue token failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	errUpdate := h.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error
	if errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", user.ID).Warn("auth: update last login failed")
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int64(expiresAt.Sub(now).Seconds()),
	})
}

// Me returns the authenticated user and their remaining call budget.
func (h *AuthHandler) Me(c *gin.Context) {
	id := userID(c)
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := userJSON(user)
	if h.quota != nil {
		status, errStatus := h.quota.Status(c.Request.Context(), user.ID)
		if errStatus != nil {
			log.WithError(errStatus).WithField("user_id", user.ID).Warn("auth: quota status failed")
		} else {
			out["quota"] = quotaJSON(status)
		}
	}
	c.JSON(http.StatusOK, out)
}

func userJSON(user models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"is_active":  user.Active,
		"created_at": user.CreatedAt,
		"last_login": user.LastLoginAt,
	}
}

func quotaJSON(result ratelimit.Result) gin.H {
	out := gin.H{
		"limit":     result.Limit,
		"remaining": result.Remaining,
		"unlimited": result.Limit <= 0,
	}
	if !result.Reset.IsZero() {
		out["reset_at"] = result.Reset.UTC()
	}
	return out
}

// bindMessage turns binding errors into a short client message.
func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid json"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("missing %s", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("invalid %s", field)
	}
}
