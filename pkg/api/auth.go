package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/incidentops/iats/pkg/models"
)

const principalKey = "principal"

// tokenClaims is the JSON body of a non-shared bearer token.
type tokenClaims struct {
	Sub       string   `json:"sub"`
	Role      string   `json:"role"`
	Services  []string `json:"services"`
	CanIngest bool     `json:"can_ingest"`
}

// authMiddleware resolves the caller to a Principal. With auth disabled every
// request runs as a dev admin; otherwise a missing or undecodable token is a
// 401 before any handler runs.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.settings.AuthEnabled {
			c.Set(principalKey, &models.Principal{Subject: "dev-admin", Role: models.RoleAdmin})
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		principal, ok := s.parseToken(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// parseToken accepts either the shared admin secret or a base64url(JSON)
// claims token, optionally carrying a "dev." prefix.
func (s *Server) parseToken(token string) (*models.Principal, bool) {
	if s.settings.AuthSharedToken != "" && token == s.settings.AuthSharedToken {
		return &models.Principal{Subject: "shared-token", Role: models.RoleAdmin}, true
	}

	raw := strings.TrimPrefix(token, "dev.")
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, false
	}
	var claims tokenClaims
	if err := json.Unmarshal(decoded, &claims); err != nil || claims.Sub == "" {
		return nil, false
	}
	return &models.Principal{
		Subject:   claims.Sub,
		Role:      models.ParseRole(claims.Role),
		Services:  claims.Services,
		CanIngest: claims.CanIngest,
	}, true
}

// principal returns the request's authenticated principal.
func principal(c *gin.Context) *models.Principal {
	p, _ := c.Get(principalKey)
	return p.(*models.Principal)
}

// requireIngest gates the alert and change ingest endpoints.
func requireIngest() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !principal(c).CanIngestEvents() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ingest permission required"})
			return
		}
		c.Next()
	}
}

// requireAdmin gates admin-only endpoints.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal(c).Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}
