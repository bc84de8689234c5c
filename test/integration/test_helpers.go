//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gamepulse/internal/app"
	"gamepulse/internal/config"
	"gamepulse/internal/database"
	"gamepulse/internal/handler"
	"gamepulse/internal/middleware"
	"gamepulse/internal/model"
	"gamepulse/internal/repository"
	"gamepulse/internal/snapshot"
)

const (
	testPassword = "Password123!"
	webhookKey   = "integration-hook"
)

type testEnv struct {
	server *httptest.Server
	db     *database.DB
	coach  model.User
}

// newEnv starts the full router on PostgreSQL, plus Redis when REDIS_URL is
// set. Each call provisions a fresh coach so tests can share a database.
func newEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.New(ctx, dsn, 4, 1)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.EnsureSchema(ctx))

	users := repository.NewUserRepository(db.Pool)
	stores := app.Stores{
		Users:     users,
		Approvals: repository.NewApprovalRepository(db.Pool),
		Players:   repository.NewPlayerRepository(db.Pool),
		Snapshots: snapshot.NewMemoryStore(snapshot.DefaultHistoryLen),
		Checks:    map[string]handler.Pinger{"postgres": handler.PingFunc(db.Health)},
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisStore, err := snapshot.NewRedisStore(ctx, snapshot.RedisConfig{URL: redisURL, TTL: time.Hour})
		require.NoError(t, err)
		t.Cleanup(func() { _ = redisStore.Close() })
		stores.Snapshots = redisStore
		stores.Checks["redis"] = redisStore
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	coach := model.User{
		ID:           uuid.NewString(),
		Username:     "coach-" + uuid.NewString()[:8],
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, users.Create(ctx, coach))

	cfg := &config.Config{
		ServerPort:         "0",
		RequestTimeout:     10 * time.Second,
		StoreDriver:        config.StoreDriverPostgres,
		AccessTokenSecret:  "integration-access",
		RefreshTokenSecret: "integration-refresh",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    24 * time.Hour,
		BcryptCost:         bcrypt.MinCost,
		CORSOrigins:        []string{"http://localhost:3000"},
		WebhookAPIKey:      webhookKey,
		IngestMaxBytes:     8 * 1024,
		StreamKeepAlive:    25 * time.Second,
		StreamWriteTimeout: 5 * time.Second,
		StreamMaxDuration:  time.Hour,
		StreamMaxPending:   64,
	}

	h, hub := app.NewHandler(cfg, stores, nil)
	server := httptest.NewServer(h)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return &testEnv{server: server, db: db, coach: coach}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func (e *testEnv) login(t *testing.T) (string, *http.Cookie) {
	t.Helper()

	body, err := json.Marshal(map[string]string{"username": e.coach.Username, "password": testPassword})
	require.NoError(t, err)

	resp, env := e.do(t, mustNewRequest(t, http.MethodPost, e.server.URL+"/api/v1/auth/login", body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair model.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &pair))
	require.NotEmpty(t, pair.AccessToken)

	cookie := refreshCookie(resp)
	require.NotNil(t, cookie)
	return pair.AccessToken, cookie
}

func (e *testEnv) approve(t *testing.T, access string) {
	t.Helper()

	req := mustNewRequest(t, http.MethodPost, e.server.URL+"/api/v1/auth/approval", []byte(`{"consent":true}`))
	req.Header.Set("Authorization", "Bearer "+access)
	resp, _ := e.do(t, req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" && resp.ContentLength != 0 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func refreshCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.RefreshCookieName {
			return c
		}
	}
	return nil
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func withCookie(req *http.Request, c *http.Cookie) *http.Request {
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	return req
}

func mustNewRequest(t *testing.T, method string, url string, body []byte) *http.Request {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}
