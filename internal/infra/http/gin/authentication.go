package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentchat/internal/app/services/auth"
	domainauth "rentchat/internal/domain/auth"
	domainuser "rentchat/internal/domain/user"
	"rentchat/internal/infra/obs"
)

const callerContextKey = "rentchat.caller"

// TokenResolver turns a bearer credential into the caller's identity.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*auth.ResolveResult, error)
}

// caller is the authenticated user behind a request.
type caller struct {
	Identity domainauth.Identity
	Name     string
}

func (c caller) UserID() string {
	return string(c.Identity.UserID)
}

func (c caller) Admin() bool {
	return c.Identity.HasRole(domainuser.RoleAdmin)
}

type AuthMiddleware struct {
	Service TokenResolver
	Logger  *slog.Logger
}

// Handle attaches the caller for a valid bearer credential. A credential
// that does not resolve is answered with 401 here; requests without one
// continue and are turned away by handlers that need a caller.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := ExtractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Service == nil {
		c.Next()
		return
	}
	resolved, err := m.Service.ResolveToken(c.Request.Context(), token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("auth.reject", "path", c.Request.URL.Path, "error", err)
		}
		c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired credential"})
		return
	}
	who := caller{Identity: resolved.Identity}
	if resolved.User != nil {
		who.Name = resolved.User.Name
	}
	c.Set(callerContextKey, who)
	c.Set(obs.UserIDKey, who.UserID())
	c.Next()
}

// requireCaller writes 401 and reports false for anonymous requests.
func requireCaller(c *gin.Context) (caller, bool) {
	val, exists := c.Get(callerContextKey)
	if who, ok := val.(caller); exists && ok {
		return who, true
	}
	c.Header("WWW-Authenticate", "Bearer")
	c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
	return caller{}, false
}

// ExtractBearerToken returns the credential of an "Authorization: Bearer" header.
func ExtractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
