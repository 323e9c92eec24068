package main

import (
	"database/sql"
	"database/sql/driver"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"viabill-be/internal/admin"
	"viabill-be/internal/auth"
	"viabill-be/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	callbackHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("callback received"))
	})
	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	})
	denyAll := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}

	loginHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login"))
	})

	router := setupRouter(callbackHandler, admin.NewHandler(nil, nil, "http://localhost", "1.0.0"), loginHandler, denyAll, metricsHandler)

	t.Run("Health Check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "OK")
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Equal(t, "# metrics", rr.Body.String())
	})

	t.Run("Callback Wiring", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/viabill/callback", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "callback received", rr.Body.String())
	})

	t.Run("Admin routes are guarded", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/payments/1/void", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Login is public", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", nil))

		assert.Equal(t, "login", rr.Body.String())
	})
}

func testConfig() *config.Config {
	return &config.Config{
		AppPort:       "8080",
		AppEnv:        "test",
		PublicBaseURL: "http://localhost:8080",
		JWTSecret:     "test-secret",
		KafkaTopic:    "viabill.payment.state_changed",
		ViaBill: config.ViaBillConfig{
			GatewayID:       "viabill_payments",
			APIKey:          "key",
			APISecret:       "secret",
			TestMode:        true,
			TransactionType: config.TransactionTypeAuthorizeOnly,
			BaseURL:         "http://127.0.0.1:1",
			Affiliate:       "GOLANG",
			Timeout:         time.Second,
		},
	}
}

func TestNewServer(t *testing.T) {
	db, err := sql.Open("mock_driver_main", "")
	require.NoError(t, err)

	router, cleanup, err := newServer(testConfig(), db)
	require.NoError(t, err)
	defer cleanup()

	t.Run("Health", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Metrics exposes gateway collectors", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "go_goroutines")
	})

	t.Run("Callback rejects non JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/viabill/callback", strings.NewReader("a=b"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Admin requires token", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/viabill/myviabill", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Login rejects malformed body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{")))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Admin with token reaches handler", func(t *testing.T) {
		tok, err := auth.GenerateToken([]byte("test-secret"), 1, "ops@shop.example", "admin", time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/admin/payments/abc/void", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestLockTTL(t *testing.T) {
	assert.Equal(t, 30*time.Second, lockTTL(5*time.Second))
	assert.Equal(t, 35*time.Second, lockTTL(15*time.Second))
	assert.Equal(t, 125*time.Second, lockTTL(time.Minute))
	assert.Greater(t, lockTTL(2*time.Minute), 2*time.Minute)
}

func TestNewServer_InvalidRedisURL(t *testing.T) {
	db, err := sql.Open("mock_driver_main", "")
	require.NoError(t, err)

	cfg := testConfig()
	cfg.RedisURL = "not a url"

	_, cleanup, err := newServer(cfg, db)
	defer cleanup()
	assert.ErrorContains(t, err, "REDIS_URL")
}

// --- Mock Driver for Testing ---
type mockDriver struct{}

func (m *mockDriver) Open(name string) (driver.Conn, error)         { return &mockConn{}, nil }
func (c *mockConn) Prepare(query string) (driver.Stmt, error)       { return &mockStmt{}, nil }
func (c *mockConn) Close() error                                    { return nil }
func (c *mockConn) Begin() (driver.Tx, error)                       { return nil, nil }
func (s *mockStmt) Close() error                                    { return nil }
func (s *mockStmt) NumInput() int                                   { return 0 }
func (s *mockStmt) Exec(args []driver.Value) (driver.Result, error) { return nil, nil }
func (s *mockStmt) Query(args []driver.Value) (driver.Rows, error)  { return nil, nil }

type mockConn struct{}
type mockStmt struct{}

func init() {
	sql.Register("mock_driver_main", &mockDriver{})
}

func TestRun(t *testing.T) {
	origInitDB := initDBFunc
	defer func() { initDBFunc = origInitDB }()
	initDBFunc = func(cfg *config.Config) *sql.DB {
		db, _ := sql.Open("mock_driver_main", "")
		return db
	}

	origStartServer := startServerFunc
	defer func() { startServerFunc = origStartServer }()
	var addr string
	startServerFunc = func(a string, handler http.Handler) error {
		addr = a
		return nil
	}

	t.Setenv("APP_PORT", "8081")
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "user")
	t.Setenv("DB_PASSWORD", "pass")
	t.Setenv("DB_NAME", "db")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("OTLP_ENDPOINT", "")

	assert.NoError(t, run())
	assert.Equal(t, ":8081", addr)
}
