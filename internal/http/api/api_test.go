package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raevmood/devicefinder/internal/agent"
	"github.com/raevmood/devicefinder/internal/apperr"
	"github.com/raevmood/devicefinder/internal/chat"
	"github.com/raevmood/devicefinder/internal/config"
	dbutil "github.com/raevmood/devicefinder/internal/db"
	"github.com/raevmood/devicefinder/internal/http/api/handlers"
	"github.com/raevmood/devicefinder/internal/ingest"
	"github.com/raevmood/devicefinder/internal/memory"
	"github.com/raevmood/devicefinder/internal/models"
	"github.com/raevmood/devicefinder/internal/ratelimit"
	"github.com/raevmood/devicefinder/internal/security"
	internalsettings "github.com/raevmood/devicefinder/internal/settings"
	"github.com/tidwall/gjson"
)

const testSecret = "test-secret"

type fakeQuota struct{}

func (fakeQuota) Status(context.Context, uint64) (ratelimit.Result, error) {
	return ratelimit.Result{Allowed: true, Limit: 10, Remaining: 7}, nil
}

type fakeRecommender struct {
	category agent.Category
	err      error
	gotUser  uint64
	gotReq   agent.Request
}

func (f *fakeRecommender) Category() agent.Category { return f.category }

func (f *fakeRecommender) Recommend(_ context.Context, userID uint64, req agent.Request) (*agent.Response, error) {
	f.gotUser = userID
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Response{
		Category:        f.category.Key,
		Recommendations: []agent.Recommendation{{Rank: 1, Name: "Pixel 8", Price: 65000}},
		Confidence:      agent.ConfidenceHigh,
		Backend:         "fake",
	}, nil
}

type fakeChat struct {
	cleared bool
}

func (f *fakeChat) Chat(_ context.Context, userID uint64, message string) (chat.Reply, error) {
	if strings.TrimSpace(message) == "" {
		return chat.Reply{}, apperr.InvalidRequest("message is required")
	}
	return chat.Reply{Reply: fmt.Sprintf("user %d said %s", userID, message), Backend: "fake"}, nil
}

func (f *fakeChat) History(context.Context, uint64) ([]memory.Message, error) {
	return nil, nil
}

func (f *fakeChat) ClearHistory(context.Context, uint64) error {
	f.cleared = true
	return nil
}

func (f *fakeChat) MaxMessages() int { return 6 }

type fakeIngest struct {
	triggers int
}

func (f *fakeIngest) Trigger() bool {
	f.triggers++
	return f.triggers > 1
}

func (f *fakeIngest) Running() bool { return false }

func (f *fakeIngest) LastSummary() (ingest.Summary, bool) { return ingest.Summary{}, false }

func (f *fakeIngest) CatalogCounts(context.Context) (map[string]int64, error) {
	return map[string]int64{"phone": 4, "laptop": 0}, nil
}

type fakeRefresher struct {
	polls int
}

func (f *fakeRefresher) Poll(context.Context, bool) { f.polls++ }

type testEnv struct {
	router    *gin.Engine
	phone     *fakeRecommender
	chat      *fakeChat
	ingest    *fakeIngest
	refresher *fakeRefresher
	svc       Services
}

func newTestEnv(t *testing.T, ingestKey string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := dbutil.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := dbutil.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	phone, _ := agent.Lookup("phone")
	env := &testEnv{
		phone:     &fakeRecommender{category: phone},
		chat:      &fakeChat{},
		ingest:    &fakeIngest{},
		refresher: &fakeRefresher{},
	}
	env.svc = Services{
		DB:           conn,
		JWT:          config.JWTConfig{Secret: testSecret, Expiry: time.Hour},
		Quota:        fakeQuota{},
		Agents:       []handlers.Recommender{env.phone},
		Chat:         env.chat,
		Ingest:       env.ingest,
		Settings:     env.refresher,
		IngestAPIKey: ingestKey,
		Version:      "test",
	}
	env.router = NewRouter(env.svc)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) registerAndLogin(t *testing.T, username string) string {
	t.Helper()
	body := fmt.Sprintf(`{"username":%q,"email":%q,"password":"correct-horse"}`, username, username+"@example.com")
	if rec := e.do(t, http.MethodPost, "/auth/register", body, nil); rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec := e.do(t, http.MethodPost, "/auth/login", fmt.Sprintf(`{"username":%q,"password":"correct-horse"}`, username), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	token := gjson.Get(rec.Body.String(), "access_token").String()
	if token == "" {
		t.Fatalf("login: missing access_token in %s", rec.Body.String())
	}
	return token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestRegisterLoginAndMe(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/auth/register", `{"username":"alice","email":"Alice@Example.com","password":"correct-horse"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "email").String(); got != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", got)
	}
	if gjson.Get(rec.Body.String(), "password").Exists() {
		t.Fatalf("password must not be returned")
	}

	rec = env.do(t, http.MethodPost, "/auth/register", `{"username":"ALICE","email":"other@example.com","password":"correct-horse"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong-password"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"correct-horse"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := rec.Body.String()
	if gjson.Get(out, "token_type").String() != "bearer" || gjson.Get(out, "expires_in").Int() != 3600 {
		t.Fatalf("unexpected token response: %s", out)
	}
	token := gjson.Get(out, "access_token").String()

	rec = env.do(t, http.MethodGet, "/auth/me", "", bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out = rec.Body.String()
	if gjson.Get(out, "username").String() != "alice" || !gjson.Get(out, "is_active").Bool() {
		t.Fatalf("unexpected user: %s", out)
	}
	if gjson.Get(out, "last_login").String() == "" {
		t.Fatalf("expected last_login after login: %s", out)
	}
	if gjson.Get(out, "quota.remaining").Int() != 7 || gjson.Get(out, "quota.limit").Int() != 10 {
		t.Fatalf("unexpected quota: %s", out)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, "")
	cases := []struct {
		name string
		body string
	}{
		{"short username", `{"username":"al","email":"al@example.com","password":"correct-horse"}`},
		{"bad email", `{"username":"alice","email":"not-an-email","password":"correct-horse"}`},
		{"short password", `{"username":"alice","email":"alice@example.com","password":"short"}`},
		{"missing password", `{"username":"alice","email":"alice@example.com"}`},
		{"not json", `{`},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/auth/register", tc.body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, rec.Code, rec.Body.String())
		}
		if gjson.Get(rec.Body.String(), "error").String() == "" {
			t.Fatalf("%s: expected error message", tc.name)
		}
	}
}

func TestUsernameMatchTreatsWildcardsLiterally(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerAndLogin(t, "abc")
	env.registerAndLogin(t, "a_c")

	for _, username := range []string{"%%%", "a%", "___"} {
		rec := env.do(t, http.MethodPost, "/auth/login", fmt.Sprintf(`{"username":%q,"password":"correct-horse"}`, username), nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d: %s", username, rec.Code, rec.Body.String())
		}
	}
}

func TestLoginAcceptsForm(t *testing.T) {
	env := newTestEnv(t, "")
	env.registerAndLogin(t, "formuser")

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("username=formuser&password=correct-horse"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "")

	cases := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"missing", nil, "missing authorization header"},
		{"format", map[string]string{"Authorization": "Token abc"}, "invalid authorization format"},
		{"empty", map[string]string{"Authorization": "Bearer  "}, "empty token"},
		{"forged", bearer("not-a-jwt"), "invalid token"},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodGet, "/auth/me", "", tc.headers)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", tc.name, rec.Code)
		}
		if got := gjson.Get(rec.Body.String(), "error").String(); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}

	token, _, err := security.IssueUserToken(testSecret, 999, "ghost", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if rec := env.do(t, http.MethodGet, "/auth/me", "", bearer(token)); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", rec.Code)
	}
}

func TestDisabledUserIsForbidden(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.registerAndLogin(t, "bob")
	if err := env.svc.DB.Model(&models.User{}).Where("username = ?", "bob").Update("active", false).Error; err != nil {
		t.Fatalf("disable user: %v", err)
	}
	if rec := env.do(t, http.MethodGet, "/auth/me", "", bearer(token)); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRecommendRoute(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.registerAndLogin(t, "carol")

	body := `{"user_base_prompt":"good camera","location":"Nairobi","budget":70000,"camera_priority":"high"}`
	rec := env.do(t, http.MethodPost, "/find_phone", body, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.phone.gotUser == 0 {
		t.Fatalf("expected authenticated user id to reach the agent")
	}
	if env.phone.gotReq.Location != "Nairobi" || env.phone.gotReq.Budget == nil || *env.phone.gotReq.Budget != 70000 {
		t.Fatalf("unexpected parsed request: %+v", env.phone.gotReq)
	}
	if got := gjson.Get(rec.Body.String(), "recommendations.0.name").String(); got != "Pixel 8" {
		t.Fatalf("unexpected response: %s", rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/find_phone", `{"location":"Nairobi"}`, bearer(token))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing prompt, got %d", rec.Code)
	}

	if rec = env.do(t, http.MethodPost, "/find_phone", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestRecommendErrorMapping(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.registerAndLogin(t, "dave")
	body := `{"user_base_prompt":"anything","location":"Nairobi"}`

	env.phone.err = apperr.NewRateLimitError(90 * time.Second)
	rec := env.do(t, http.MethodPost, "/find_phone", body, bearer(token))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "90" {
		t.Fatalf("expected Retry-After 90, got %q", got)
	}

	env.phone.err = fmt.Errorf("%w: catalog query: boom", apperr.ErrUpstreamUnavailable)
	if rec = env.do(t, http.MethodPost, "/find_phone", body, bearer(token)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	env.phone.err = fmt.Errorf("wrapped: %w", apperr.ErrGenerationFailed)
	rec = env.do(t, http.MethodPost, "/find_phone", body, bearer(token))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "wrapped") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
}

func TestChatRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	token := env.registerAndLogin(t, "erin")

	rec := env.do(t, http.MethodPost, "/chat", `{"message":"hello"}`, bearer(token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.HasSuffix(gjson.Get(rec.Body.String(), "reply").String(), "said hello") {
		t.Fatalf("unexpected reply: %s", rec.Body.String())
	}

	if rec = env.do(t, http.MethodPost, "/chat", `{"message":"  "}`, bearer(token)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/chat/history", "", bearer(token))
	if rec.Code != http.StatusOK || !gjson.Get(rec.Body.String(), "messages").IsArray() {
		t.Fatalf("expected messages array, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "max_messages").Int(); got != 6 {
		t.Fatalf("expected max_messages 6, got %d", got)
	}

	oversized := `{"message":"` + strings.Repeat("a", 70<<10) + `"}`
	if rec = env.do(t, http.MethodPost, "/chat", oversized, bearer(token)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized body, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodPost, "/chat", `{`, bearer(token)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", rec.Code)
	}

	if rec = env.do(t, http.MethodDelete, "/chat/history", "", bearer(token)); rec.Code != http.StatusOK || !env.chat.cleared {
		t.Fatalf("expected history cleared, got %d", rec.Code)
	}
}

func TestIngestTrigger(t *testing.T) {
	env := newTestEnv(t, "secret-key")

	if rec := env.do(t, http.MethodPost, "/ingest_daily_data", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/ingest_daily_data", "", map[string]string{"X-API-KEY": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/ingest_daily_data", "", map[string]string{"X-API-KEY": "secret-key"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if gjson.Get(rec.Body.String(), "already_running").Bool() {
		t.Fatalf("first trigger should start a run: %s", rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/ingest_daily_data", "", map[string]string{"X-API-KEY": "secret-key"})
	if rec.Code != http.StatusAccepted || !gjson.Get(rec.Body.String(), "already_running").Bool() {
		t.Fatalf("second trigger should report the run in progress: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/ingest_daily_data/status", "", map[string]string{"X-API-KEY": "secret-key"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 status, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "catalog.phone").Int(); got != 4 {
		t.Fatalf("expected phone count 4, got %d: %s", got, rec.Body.String())
	}
}

func TestIngestWithoutConfiguredKey(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodPost, "/ingest_daily_data", "", map[string]string{"X-API-KEY": "anything"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if env.ingest.triggers != 0 {
		t.Fatalf("trigger must not run without a configured key")
	}
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodGet, "/", "", map[string]string{"X-Request-ID": "req-1"})
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "status").String() != "online" {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}

	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected generated request id")
	}

	rec = env.do(t, http.MethodGet, "/categories", "", nil)
	var payload struct {
		Categories []struct {
			Route string `json:"route"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(payload.Categories) != len(agent.Categories) {
		t.Fatalf("expected %d categories, got %d", len(agent.Categories), len(payload.Categories))
	}

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "devicefinder_http_requests_total") {
		t.Fatalf("expected metrics output, got %d", rec.Code)
	}
}

func TestOperatorSettings(t *testing.T) {
	env := newTestEnv(t, "op-key")
	key := map[string]string{"X-API-KEY": "op-key"}

	if rec := env.do(t, http.MethodGet, "/admin/settings", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPut, "/admin/settings/RATE_LIMIT_MAX_CALLS", `{"value":5}`, key)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.refresher.polls != 1 {
		t.Fatalf("expected snapshot refresh, got %d polls", env.refresher.polls)
	}
	rec = env.do(t, http.MethodGet, "/admin/settings/RATE_LIMIT_MAX_CALLS", "", key)
	if rec.Code != http.StatusOK || gjson.Get(rec.Body.String(), "value").Int() != 5 {
		t.Fatalf("unexpected setting: %d %s", rec.Code, rec.Body.String())
	}

	invalid := []struct {
		path string
		body string
	}{
		{"/admin/settings/RATE_LIMIT_MAX_CALLS", `{"value":-1}`},
		{"/admin/settings/RATE_LIMIT_WINDOW_MINUTES", `{"value":0}`},
		{"/admin/settings/RATE_LIMIT_WINDOW_MINUTES", `{"value":1.5}`},
		{"/admin/settings/RATE_LIMIT_REDIS_ENABLED", `{"value":"maybe"}`},
		{"/admin/settings/RATE_LIMIT_REDIS_ADDR", `{"value":6379}`},
		{"/admin/settings/NOT_A_SETTING", `{"value":1}`},
	}
	for _, tc := range invalid {
		if rec = env.do(t, http.MethodPut, tc.path, tc.body, key); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", tc.path, tc.body, rec.Code)
		}
	}

	rec = env.do(t, http.MethodPut, "/admin/settings/RATE_LIMIT_REDIS_PASSWORD", `{"value":"hunter2"}`, key)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	applied := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	internalsettings.StoreDBConfig(applied, nil)
	t.Cleanup(func() { internalsettings.StoreDBConfig(time.Time{}, nil) })
	rec = env.do(t, http.MethodGet, "/admin/settings", "", key)
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("password leaked in listing: %s", rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "applied_at").Time(); !got.Equal(applied) {
		t.Fatalf("expected applied_at %s, got %s", applied, got)
	}

	if rec = env.do(t, http.MethodDelete, "/admin/settings/RATE_LIMIT_MAX_CALLS", "", key); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/admin/settings/RATE_LIMIT_MAX_CALLS", "", key)
	if gjson.Get(rec.Body.String(), "value").Type != gjson.Null {
		t.Fatalf("expected null after reset: %s", rec.Body.String())
	}
}
