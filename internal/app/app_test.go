package app

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"gamepulse/internal/config"
	"gamepulse/internal/event"
	"gamepulse/internal/middleware"
	"gamepulse/internal/model"
)

const webhookKey = "hook-key"

type AppSuite struct {
	suite.Suite
	srv    *httptest.Server
	hub    *event.Hub
	stores Stores
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:         "0",
		RequestTimeout:     5 * time.Second,
		StoreDriver:        config.StoreDriverMemory,
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
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
}

func (s *AppSuite) SetupTest() {
	s.stores = MemoryStores()

	hash, err := bcrypt.GenerateFromPassword([]byte(" secret"), bcrypt.MinCost)
	s.Require().NoError(err)
	s.Require().NoError(s.stores.Users.(interface {
		Create(ctx context.Context, u model.User) error
	}).Create(context.Background(), model.User{
		ID:           "u1",
		Username:     "Coach1",
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}))

	var h http.Handler
	h, s.hub = NewHandler(testConfig(), s.stores, nil)
	s.srv = httptest.NewServer(h)
}

func (s *AppSuite) TearDownTest() {
	s.hub.Close()
	s.srv.Close()
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *model.APIError `json:"error"`
}

func (s *AppSuite) do(method, path string, body string, mutate func(*http.Request)) (*http.Response, envelope) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	s.Require().NoError(err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		s.Require().NoError(json.Unmarshal(raw, &env))
	}
	return resp, env
}

func refreshFrom(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == middleware.RefreshCookieName {
			return c
		}
	}
	return nil
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (s *AppSuite) login(username string) (string, *http.Cookie) {
	body, err := json.Marshal(map[string]string{"username": username, "password": " secret"})
	s.Require().NoError(err)

	resp, env := s.do(http.MethodPost, "/api/v1/auth/login", string(body), nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var pair model.TokenPair
	s.Require().NoError(json.Unmarshal(env.Data, &pair))
	s.Require().NotEmpty(pair.AccessToken)

	cookie := refreshFrom(resp)
	s.Require().NotNil(cookie)
	s.Require().True(cookie.HttpOnly)
	return pair.AccessToken, cookie
}

func (s *AppSuite) TestLoginNormalizesUsername() {
	for _, name := range []string{"Coach1", "  coach1 ", "COACH1"} {
		s.login(name)
	}

	resp, env := s.do(http.MethodPost, "/api/v1/auth/login", `{"username":"coach1","password":"wrong"}`, nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("Invalid username or password", env.Error.Message)

	resp, _ = s.do(http.MethodPost, "/api/v1/auth/login", `{"username":"coach1"}`, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *AppSuite) TestRefreshReuseRevokesSession() {
	_, r1 := s.login("Coach1")

	resp, _ := s.do(http.MethodPost, "/api/v1/auth/refresh", "", withCookie(r1))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	r2 := refreshFrom(resp)
	s.Require().NotNil(r2)
	s.NotEqual(r1.Value, r2.Value)

	resp, env := s.do(http.MethodPost, "/api/v1/auth/refresh", "", withCookie(r1))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("INVALID_TOKEN", env.Error.Code)

	resp, _ = s.do(http.MethodPost, "/api/v1/auth/refresh", "", withCookie(r2))
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/v1/auth/refresh", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *AppSuite) TestLogoutWithoutCookieIsIdempotent() {
	for i := 0; i < 3; i++ {
		resp, _ := s.do(http.MethodPost, "/api/v1/auth/logout", "", nil)
		s.Equal(http.StatusNoContent, resp.StatusCode)
		cleared := refreshFrom(resp)
		s.Require().NotNil(cleared)
		s.Empty(cleared.Value)
		s.Less(cleared.MaxAge, 0)
	}
}

func (s *AppSuite) TestLogoutInvalidCookieStillClears() {
	resp, _ := s.do(http.MethodPost, "/api/v1/auth/logout", "", withCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: "garbage"}))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.NotNil(refreshFrom(resp))
}

func (s *AppSuite) TestLogoutExpiredCookieFailsButClears() {
	access, _ := s.login("Coach1")
	resp, _ := s.do(http.MethodPost, "/api/v1/auth/approval", `{"consent":true}`, withBearer(access))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "username": "Coach1", "typ": "refresh",
		"exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte("refresh-secret"))
	s.Require().NoError(err)

	resp, env := s.do(http.MethodPost, "/api/v1/auth/logout", "",
		withCookie(&http.Cookie{Name: middleware.RefreshCookieName, Value: expired}))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("INVALID_TOKEN", env.Error.Code)
	cleared := refreshFrom(resp)
	s.Require().NotNil(cleared)
	s.Empty(cleared.Value)

	// The session and consent were still ended.
	user, err := s.stores.Users.FindByID(context.Background(), "u1")
	s.Require().NoError(err)
	s.Empty(user.RefreshHash)
	resp, _ = s.do(http.MethodGet, "/api/v1/players", "", withBearer(access))
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *AppSuite) TestStreamRejectsRotatedCookie() {
	access, r1 := s.login("Coach1")
	resp, _ := s.do(http.MethodPost, "/api/v1/auth/approval", `{"consent":true}`, withBearer(access))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/v1/auth/refresh", "", withCookie(r1))
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp, env := s.do(http.MethodGet, "/api/v1/events", "", withCookie(r1))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("INVALID_TOKEN", env.Error.Code)
}

func (s *AppSuite) TestConsentGatesProtectedReads() {
	access, cookie := s.login("Coach1")

	resp, env := s.do(http.MethodGet, "/api/v1/auth/me", "", withBearer(access))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var identity model.Identity
	s.Require().NoError(json.Unmarshal(env.Data, &identity))
	s.Equal(model.Identity{ID: "u1", Username: "Coach1", Approved: false}, identity)

	resp, env = s.do(http.MethodGet, "/api/v1/players", "", withBearer(access))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("CONSENT_REQUIRED", env.Error.Code)

	resp, env = s.do(http.MethodPost, "/api/v1/auth/approval", `{"consent":"yes please"}`, withBearer(access))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var approval model.ApprovalResponse
	s.Require().NoError(json.Unmarshal(env.Data, &approval))
	s.True(approval.OK)
	s.True(approval.Approved)

	resp, _ = s.do(http.MethodGet, "/api/v1/players", "", withBearer(access))
	s.Equal(http.StatusOK, resp.StatusCode)
	resp, _ = s.do(http.MethodGet, "/api/v1/players/live", "", withBearer(access))
	s.Equal(http.StatusOK, resp.StatusCode)

	// Logout revokes consent for the next session.
	resp, _ = s.do(http.MethodPost, "/api/v1/auth/logout", "", withCookie(cookie))
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	resp, _ = s.do(http.MethodGet, "/api/v1/players", "", withBearer(access))
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

func (s *AppSuite) TestGuardFailures() {
	resp, env := s.do(http.MethodGet, "/api/v1/auth/me", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Equal("UNAUTHENTICATED", env.Error.Code)

	resp, env = s.do(http.MethodGet, "/api/v1/auth/me", "", withBearer("nope"))
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("INVALID_TOKEN", env.Error.Code)
}

func (s *AppSuite) TestIngestValidationAndLimits() {
	resp, env := s.do(http.MethodPost, "/api/v1/push", `{"player_id":"P41","fatigue_level":3}`, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("INVALID_PAYLOAD", env.Error.Code)
	s.Equal("player_id", env.Error.Details)

	resp, _ = s.do(http.MethodPost, "/api/v1/push", `[1,2]`, nil)
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	big := `{"player_id":1,"pad":"` + strings.Repeat("x", 9*1024) + `"}`
	resp, env = s.do(http.MethodPost, "/api/v1/push_position", big, nil)
	s.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)
	s.Equal("PAYLOAD_TOO_LARGE", env.Error.Code)
}

// openStream connects to the event stream and returns its lines.
func (s *AppSuite) openStream(access string) (<-chan string, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/api/v1/events?access_token="+access, nil)
	s.Require().NoError(err)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	s.Require().Eventually(func() bool { return s.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	return lines, func() {
		cancel()
		resp.Body.Close()
	}
}

func nextEvent(t *testing.T, lines <-chan string) (string, string) {
	t.Helper()

	var name, data string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
}

func (s *AppSuite) TestStreamDeliversIngestWithoutInventedLevel() {
	access, _ := s.login("Coach1")
	resp, _ := s.do(http.MethodPost, "/api/v1/auth/approval", `{"consent":true}`, withBearer(access))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	lines, closeStream := s.openStream(access)
	defer closeStream()

	// Wrong key: rejected and never broadcast.
	resp, _ = s.do(http.MethodPost, "/api/v1/webhook-alert", `{"type":"missing_data","source":"polar","player_id":"P5"}`,
		func(r *http.Request) { r.Header.Set("X-API-Key", "wrong") })
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/v1/push", `{"player_id":"P5","fatigue_level":7,"hr":151}`, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	name, data := nextEvent(s.T(), lines)
	s.Equal("player_update", name)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal([]byte(data), &payload))
	s.Equal("P5", payload["pid"])
	s.NotContains(payload, "level")
	s.Equal(151.0, payload["metrics"].(map[string]any)["hr"])

	resp, _ = s.do(http.MethodPost, "/api/v1/webhook-alert", `{"type":"delayed_data","player_id":"P5","delay_seconds":2.5}`,
		func(r *http.Request) { r.Header.Set("X-API-Key", webhookKey) })
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	name, data = nextEvent(s.T(), lines)
	s.Equal("alert", name)
	s.Contains(data, `"delay_seconds":3`)
}

func (s *AppSuite) TestStreamRequiresConsent() {
	access, _ := s.login("Coach1")

	resp, env := s.do(http.MethodGet, "/api/v1/events?access_token="+access, "", nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)
	s.Equal("CONSENT_REQUIRED", env.Error.Code)
}

func (s *AppSuite) TestHealth() {
	resp, env := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.True(env.Success)
}

func (s *AppSuite) TestLiveSnapshotAndHistory() {
	access, _ := s.login("Coach1")
	resp, _ := s.do(http.MethodPost, "/api/v1/auth/approval", `{}`, withBearer(access))
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	for _, body := range []string{
		`{"player_id":"p7","pos_x":1,"pos_y":2}`,
		`{"player_id":7,"pos_x":3,"pos_y":4}`,
		`{"player_id":"P2","pos_x":0,"pos_y":0}`,
	} {
		resp, _ = s.do(http.MethodPost, "/api/v1/push_position", body, nil)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
	}

	resp, env := s.do(http.MethodGet, "/api/v1/players/live", "", withBearer(access))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var live []map[string]any
	s.Require().NoError(json.Unmarshal(env.Data, &live))
	s.Require().Len(live, 2)
	s.Equal("P2", live[0]["pid"])
	s.Equal("P7", live[1]["pid"])

	resp, env = s.do(http.MethodGet, "/api/v1/players/live/P7/history?limit=1", "", withBearer(access))
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var history []map[string]any
	s.Require().NoError(json.Unmarshal(env.Data, &history))
	s.Require().Len(history, 1)
	s.Equal(3.0, history[0]["metrics"].(map[string]any)["pos_x"])

	resp, _ = s.do(http.MethodGet, "/api/v1/players/live/abc/history", "", withBearer(access))
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}
