package auth

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xpadev-net/memorial-livestream/internal/httpapi"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const actorKey = "auth.actor"

// Bearer returns a middleware that requires a valid bearer token and
// stores the caller's actor on the context.
func Bearer(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httpapi.RespondUnauthorized(c, "Bearer token is required")
			c.Abort()
			return
		}

		claims, err := ParseToken(token, secret)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, ErrExpiredToken) {
				msg = "Token expired"
			}
			httpapi.RespondUnauthorized(c, msg)
			c.Abort()
			return
		}

		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

// SetActor stores actor on the request context.
func SetActor(c *gin.Context, actor stream.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the authenticated actor. The zero Actor is returned
// when the request was not authenticated.
func ActorFrom(c *gin.Context) stream.Actor {
	v, ok := c.Get(actorKey)
	if !ok {
		return stream.Actor{}
	}
	actor, _ := v.(stream.Actor)
	return actor
}
