package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestRequireRoles(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := service.NewAuthService(&config.Config{JWTSecret: "secret"})

	student, err := auth.IssueToken("student-1", service.RoleStudent, time.Hour)
	require.NoError(t, err)
	admin, err := auth.IssueToken("admin-1", service.RoleAdmin, time.Hour)
	require.NoError(t, err)
	expired, err := auth.IssueToken("student-1", service.RoleStudent, -time.Minute)
	require.NoError(t, err)

	r := gin.New()
	echo := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"owner": GetClaims(c).Owner(), "token": GetToken(c)})
	}
	r.GET("/student", RequireStudentJWT(auth), echo)
	r.GET("/admin", RequireAdminJWT(auth), echo)
	r.GET("/ws", RequireStudentWSAuth(auth), echo)

	tests := []struct {
		name   string
		path   string
		header string
		status int
		code   response.ErrCode
	}{
		{name: "student header", path: "/student", header: student, status: http.StatusOK},
		{name: "student query", path: "/student?token=" + student, status: http.StatusOK},
		{name: "missing token", path: "/student", status: http.StatusUnauthorized, code: response.ErrTokenRequired},
		{name: "garbage token", path: "/student", header: "nope", status: http.StatusUnauthorized, code: response.ErrTokenInvalid},
		{name: "expired token", path: "/student", header: expired, status: http.StatusUnauthorized, code: response.ErrTokenExpired},
		{name: "admin on student route", path: "/student", header: admin, status: http.StatusForbidden, code: response.ErrStudentAccessOnly},
		{name: "student on admin route", path: "/admin", header: student, status: http.StatusForbidden, code: response.ErrAdminAccessOnly},
		{name: "admin", path: "/admin", header: admin, status: http.StatusOK},
		{name: "ws query", path: "/ws?token=" + student, status: http.StatusOK},
		{name: "ws ignores header", path: "/ws", header: student, status: http.StatusUnauthorized, code: response.ErrTokenRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", "Bearer "+tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				var body response.Response
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.NotNil(t, body.Error)
				assert.Equal(t, tt.code, body.Error.Code)
			}
		})
	}
}

func TestBrotli(t *testing.T) {
	gin.SetMode(gin.TestMode)
	large := strings.Repeat("exam ", 1000)

	r := gin.New()
	r.Use(Brotli())
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	get := func(path, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if accept != "" {
			req.Header.Set("Accept-Encoding", accept)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := get("/large", "gzip, br;q=1.0")
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, large, string(decoded))

	w = get("/small", "br")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())

	w = get("/large", "gzip")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, large, w.Body.String())
}
