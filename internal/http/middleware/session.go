package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"rentbridge.com/app/internal/modules/leases"
	"rentbridge.com/app/internal/shared/apperr"
)

const (
	RoleTenant  = "tenant"
	RoleManager = "manager"
	RoleAdmin   = "admin"

	ctxKeyUser = "user"
)

// SessionCfg configures identity lookup. Sessions are issued by the account
// service; this middleware only reads them.
type SessionCfg struct {
	DB         *gorm.DB
	CookieName string
	Now        func() time.Time
}

// Session is a row of the shared sessions table.
type Session struct {
	ID         string    `gorm:"primaryKey;type:char(36)"`
	UserID     string    `gorm:"type:char(36);not null;index:ix_sessions_user_id"`
	ExpiresAt  time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	LastSeenAt time.Time `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// ContextUser is the authenticated caller.
type ContextUser struct {
	ID    string
	Email string
	Role  string
}

// SessionMiddleware resolves the caller from the session cookie or an
// "Authorization: Bearer <session id>" header. Unknown or expired sessions
// leave the request anonymous; RequireAuth decides what that means.
func SessionMiddleware(cfg SessionCfg) gin.HandlerFunc {
	if cfg.CookieName == "" {
		cfg.CookieName = "rb_session"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(c *gin.Context) {
		sid := sessionToken(c, cfg.CookieName)
		if sid == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		var sess Session
		err := cfg.DB.WithContext(ctx).Where("id = ? AND expires_at > ?", sid, cfg.Now().UTC()).First(&sess).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.Next()
			return
		}
		if err != nil {
			Fail(c, apperr.Wrap(err))
			return
		}

		var u leases.User
		if err := cfg.DB.WithContext(ctx).Select("id", "email", "role").First(&u, "id = ?", sess.UserID).Error; err != nil {
			c.Next()
			return
		}

		c.Set(ctxKeyUser, ContextUser{ID: u.ID, Email: u.Email, Role: u.Role})
		c.Next()
	}
}

func sessionToken(c *gin.Context, cookie string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if v, err := c.Cookie(cookie); err == nil {
		return v
	}
	return ""
}

// SetUser puts an identity on the context. Used by tests and trusted front proxies.
func SetUser(c *gin.Context, u ContextUser) {
	c.Set(ctxKeyUser, u)
}

func CurrentUser(c *gin.Context) (ContextUser, bool) {
	v, ok := c.Get(ctxKeyUser)
	if !ok {
		return ContextUser{}, false
	}
	u, ok := v.(ContextUser)
	return u, ok && u.ID != ""
}
