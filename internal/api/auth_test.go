package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestAuthenticate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	e := gin.New()
	e.GET("/whoami", authenticate([]byte(testSecret)), func(c *gin.Context) {
		c.String(http.StatusOK, userFrom(c))
	})

	tests := map[string]struct {
		header     string
		wantStatus int
		wantBody   string
	}{
		"valid token resolves the subject": {
			header:     "Bearer " + signToken(t, "u1", time.Hour),
			wantStatus: http.StatusOK,
			wantBody:   "u1",
		},
		"missing header is rejected": {
			header:     "",
			wantStatus: http.StatusUnauthorized,
		},
		"malformed header is rejected": {
			header:     "Token abc",
			wantStatus: http.StatusUnauthorized,
		},
		"expired token is rejected": {
			header:     "Bearer " + signToken(t, "u1", -time.Hour),
			wantStatus: http.StatusUnauthorized,
		},
		"token signed with another key is rejected": {
			header:     "Bearer " + signTokenWithSecret(t, "u1", time.Hour, "other-secret"),
			wantStatus: http.StatusUnauthorized,
		},
		"token without subject is rejected": {
			header:     "Bearer " + signToken(t, "", time.Hour),
			wantStatus: http.StatusUnauthorized,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			e.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func signToken(t *testing.T, sub string, ttl time.Duration) string {
	return signTokenWithSecret(t, sub, ttl, testSecret)
}

func signTokenWithSecret(t *testing.T, sub string, ttl time.Duration, secret string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}
