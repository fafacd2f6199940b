package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/rtc-signal/internal/config"
	"github.com/npezzotti/rtc-signal/internal/database"
	"github.com/npezzotti/rtc-signal/internal/server"
	"github.com/npezzotti/rtc-signal/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewSignalApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	ss := &server.SignalServer{}
	db := &database.MockRoomRepository{}
	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		DatabaseDSN:    "dsn",
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewSignalApp(mux, logger, ss, db, nil, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.srv, "expected http server to be initialized")
	assert.Equal(t, logger, app.log, "expected logger to be set")
	assert.Equal(t, db, app.db, "expected db to be set")
	assert.Equal(t, ss, app.ss, "expected signaling server to be set")
	assert.Equal(t, cfg.SigningKey, app.signingKey, "expected signing key to be set")
	assert.Equal(t, cfg.ServerAddr, app.srv.Addr, "expected server address to match config")
}

func TestSignalApp_Routes(t *testing.T) {
	db := &database.MockRoomRepository{}
	db.On("Ping").Return(nil)
	app := NewSignalApp(http.NewServeMux(), testutil.TestLogger(t), nil, db, nil, &config.Config{
		SigningKey:     []byte("secret"),
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	t.Run("health check is public", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	for _, path := range []string{"/ws", "/api/events"} {
		t.Run(path+" requires auth", func(t *testing.T) {
			rr := httptest.NewRecorder()
			app.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		rr := httptest.NewRecorder()
		app.srv.Handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestWsOriginCheck(t *testing.T) {
	app := NewSignalApp(http.NewServeMux(), testutil.TestLogger(t), nil, nil, nil, &config.Config{
		AllowedOrigins: []string{"http://localhost:3000"},
	})

	tcases := []struct {
		origin  string
		allowed bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://evil.example.com", false},
	}

	for _, tc := range tcases {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.allowed, app.upgrader.CheckOrigin(req), "origin %q", tc.origin)
	}
}
