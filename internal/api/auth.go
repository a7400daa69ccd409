package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ukprep/mocktest/internal/errors"
)

const ctxUserKey = "auth.user"

// authenticate resolves the opaque user handle from a bearer token. The
// engine never manages credentials: the identity provider signs the token,
// this middleware only verifies it and extracts the subject.
func authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			abortWithError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("missing bearer token")))
			return
		}

		token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abortWithError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("invalid or expired token"),
				errors.WithCause(err)))
			return
		}

		claims := token.Claims.(*jwt.RegisteredClaims)
		if claims.Subject == "" {
			abortWithError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("token has no subject")))
			return
		}

		c.Set(ctxUserKey, claims.Subject)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}

func userFrom(c *gin.Context) string {
	return c.GetString(ctxUserKey)
}
