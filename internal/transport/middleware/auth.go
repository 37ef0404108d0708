package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ds124wfegd/roombooker/internal/entity"
	"github.com/ds124wfegd/roombooker/pkg/auth"
)

const actorKey = "actor"

// TokenParser проверяет bearer-токен
type TokenParser interface {
	ParseValidate(token string) (*auth.Claims, error)
}

// Auth превращает JWT (sub, role) в entity.Actor. Без валидного токена
// запрос дальше не идет.
func Auth(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims, err := tokens.ParseValidate(strings.TrimSpace(raw))
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		id, err := strconv.ParseInt(claims.Sub, 10, 64)
		if err != nil || id <= 0 {
			abortUnauthorized(c, "invalid token subject")
			return
		}

		role := entity.Role(claims.Role)
		if role != entity.RoleAdmin {
			role = entity.RoleCustomer
		}

		c.Set(actorKey, &entity.Actor{ID: id, Role: role})
		c.Next()
	}
}

// RequireAdmin пропускает только администраторов, ставится после Auth
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		if !actor.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   entity.ErrAdminOnly.Error(),
			})
			return
		}
		c.Next()
	}
}

// ActorFrom достает вызывающего, положенного Auth
func ActorFrom(c *gin.Context) (*entity.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil, false
	}
	actor, ok := v.(*entity.Actor)
	return actor, ok && actor != nil
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   msg,
	})
}
