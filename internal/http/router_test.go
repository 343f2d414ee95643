package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/contest-notifier/internal/auth"
	"github.com/tbourn/contest-notifier/internal/config"
	"github.com/tbourn/contest-notifier/internal/contests"
	"github.com/tbourn/contest-notifier/internal/domain"
	"github.com/tbourn/contest-notifier/internal/repo"
	"github.com/tbourn/contest-notifier/internal/scheduler"
	"github.com/tbourn/contest-notifier/internal/services"
)

type stubSchedule []scheduler.Entry

func (s stubSchedule) Snapshot() []scheduler.Entry { return s }

// newTestApp wires the real store, account service, and token issuer over a
// CSV file in a temp dir.
func newTestApp(t *testing.T, cfg config.Config) (*gin.Engine, *services.SubscriptionStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg, err := contests.NewRegistry(contests.Defaults()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	csv, err := repo.NewCSVRepository(filepath.Join(t.TempDir(), "users.csv"))
	if err != nil {
		t.Fatalf("csv repo: %v", err)
	}
	store := services.NewSubscriptionStore(csv, reg)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	issuer, err := auth.NewTokenIssuer("router-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	accounts := services.NewAccountService(store, auth.NewBcryptHasher(bcrypt.MinCost), issuer)

	r := gin.New()
	RegisterRoutes(r, Deps{
		Accounts:      accounts,
		Subscriptions: store,
		Catalog:       reg,
		Schedule:      stubSchedule{},
		Tokens:        issuer,
	}, cfg)
	return r, store
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     1000,
		RateBurst:   1000,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func call(r http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _ := newTestApp(t, testConfig())

	// /health works
	w := call(r, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing, got %q", got)
	}

	// /metrics is wired
	w = call(r, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404 envelope
	w = call(r, http.MethodGet, "/nope", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var env map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env["code"] != "not_found" || env["request_id"] == "" {
		t.Fatalf("unexpected 404 body: %s", w.Body.String())
	}

	// NoMethod → 405 (POST /health)
	w = call(r, http.MethodPost, "/health", "", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _ := newTestApp(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// Versioned mount follows the configured base path.
	if w := call(r, http.MethodGet, "/api/v2/catalog", "", ""); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/catalog = %d", w.Code)
	}
}

func TestRegisterRoutes_EndToEnd_RegisterSignInContests(t *testing.T) {
	r, store := newTestApp(t, testConfig())

	w := call(r, http.MethodPost, "/register",
		`{"name":"Ada","email":"ada@example.com","phone":"+919876543210","password":"s3cret","contests":["leetcode-weekly"]}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}

	// Duplicate registration is a conflict.
	w = call(r, http.MethodPost, "/register", `{"email":"ada@example.com","password":"other"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register = %d", w.Code)
	}

	// Wrong password and unknown email look the same.
	bad1 := call(r, http.MethodPost, "/signin", `{"email":"ada@example.com","password":"nope"}`, "")
	bad2 := call(r, http.MethodPost, "/signin", `{"email":"ghost@example.com","password":"nope"}`, "")
	if bad1.Code != http.StatusBadRequest || bad2.Code != http.StatusBadRequest {
		t.Fatalf("bad sign-ins = %d, %d", bad1.Code, bad2.Code)
	}
	var e1, e2 map[string]any
	_ = json.Unmarshal(bad1.Body.Bytes(), &e1)
	_ = json.Unmarshal(bad2.Body.Bytes(), &e2)
	if e1["code"] != e2["code"] || e1["message"] != e2["message"] {
		t.Fatalf("sign-in failures should be indistinguishable: %v vs %v", e1, e2)
	}

	w = call(r, http.MethodPost, "/signin", `{"email":"ada@example.com","password":"s3cret"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signin = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("signin response should not be cached")
	}
	var signin struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &signin); err != nil || signin.Token == "" {
		t.Fatalf("missing token: %s", w.Body.String())
	}

	// Without a token the principal-scoped routes are closed.
	if w := call(r, http.MethodGet, "/contests", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("GET /contests without token = %d", w.Code)
	}

	getContests := func(prefix string) []string {
		t.Helper()
		w := call(r, http.MethodGet, prefix+"/contests", "", signin.Token)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s/contests = %d %s", prefix, w.Code, w.Body.String())
		}
		var body struct {
			Contests []string `json:"contests"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.Contests
	}

	if got := getContests(""); !reflect.DeepEqual(got, []string{"leetcode-weekly"}) {
		t.Fatalf("contests = %v", got)
	}

	// Unknown names reject the whole update.
	w = call(r, http.MethodPut, "/api/v1/contests", `{"contests":["leetcode-biweekly","no-such-contest"]}`, signin.Token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("PUT with unknown contest = %d", w.Code)
	}
	if got := getContests("/api/v1"); !reflect.DeepEqual(got, []string{"leetcode-weekly"}) {
		t.Fatalf("contests after rejected PUT = %v", got)
	}

	w = call(r, http.MethodPut, "/contests", `{"contests":[]}`, signin.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT [] = %d %s", w.Code, w.Body.String())
	}
	if got := getContests(""); len(got) != 0 {
		t.Fatalf("contests after PUT [] = %v", got)
	}

	subs, err := store.SubscribersOf(context.Background(), "leetcode-weekly")
	if err != nil || len(subs) != 0 {
		t.Fatalf("scheduler would still see subscribers: %v err=%v", subs, err)
	}
}

func TestRegisterRoutes_RegisterRejectsOverlongMultibytePassword(t *testing.T) {
	r, store := newTestApp(t, testConfig())

	// 40 runes pass the max=72 binding but are 80 bytes, over bcrypt's limit.
	body := `{"email":"ada@example.com","password":"` + strings.Repeat("é", 40) + `"}`
	w := call(r, http.MethodPost, "/register", body, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("register = %d %s", w.Code, w.Body.String())
	}
	var env map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env["code"] != "bad_request" {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if store.Len() != 0 {
		t.Fatalf("nothing should be stored, have %d principals", store.Len())
	}
}

func TestRegisterRoutes_SubscribeUnsubscribe(t *testing.T) {
	r, store := newTestApp(t, testConfig())

	body := `{"email":"bob@example.com","contestName":"leetcode-biweekly"}`
	if w := call(r, http.MethodPost, "/subscribe", body, ""); w.Code != http.StatusOK {
		t.Fatalf("subscribe = %d %s", w.Code, w.Body.String())
	}
	w := call(r, http.MethodPost, "/api/v1/subscribe", body, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second subscribe = %d", w.Code)
	}
	var env map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	if env["code"] != "already_subscribed" {
		t.Fatalf("unexpected conflict body: %s", w.Body.String())
	}

	if w := call(r, http.MethodPost, "/subscribe", `{"email":"bob@example.com","contestName":"nope"}`, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown contest subscribe = %d", w.Code)
	}

	subs, _ := store.SubscribersOf(context.Background(), "leetcode-biweekly")
	if len(subs) != 1 || subs[0].Email != "bob@example.com" {
		t.Fatalf("subscribers = %+v", subs)
	}

	target := "/unsubscribe?email=bob%40example.com&contestName=leetcode-biweekly"
	for i := 0; i < 2; i++ {
		if w := call(r, http.MethodGet, target, "", ""); w.Code != http.StatusOK {
			t.Fatalf("unsubscribe #%d = %d %s", i+1, w.Code, w.Body.String())
		}
	}
	subs, _ = store.SubscribersOf(context.Background(), "leetcode-biweekly")
	if len(subs) != 0 {
		t.Fatalf("expected no subscribers, got %+v", subs)
	}
}

func TestRegisterRoutes_CatalogAndSchedule(t *testing.T) {
	r, _ := newTestApp(t, testConfig())

	w := call(r, http.MethodGet, "/api/v1/catalog", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("catalog = %d", w.Code)
	}
	var cat struct {
		Contests []struct {
			Name string `json:"name"`
		} `json:"contests"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cat); err != nil || len(cat.Contests) != len(contests.Defaults()) {
		t.Fatalf("catalog body: %s err=%v", w.Body.String(), err)
	}

	if w := call(r, http.MethodGet, "/schedule", "", ""); w.Code != http.StatusOK {
		t.Fatalf("schedule = %d", w.Code)
	}
}

func TestRegisterRoutes_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, _ := newTestApp(t, cfg)

	if w := call(r, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	w := call(r, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestRegisterRoutes_AuthedRoutesLimitedPerPrincipal(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 2
	r, _ := newTestApp(t, cfg)

	issuer, err := auth.NewTokenIssuer("router-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	tokA, _ := issuer.Issue(domain.Principal{ID: "ada@example.com", Email: "ada@example.com"})
	tokB, _ := issuer.Issue(domain.Principal{ID: "bob@example.com", Email: "bob@example.com"})

	hit := func(target, token, ip string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = ip + ":4000"
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// Each request comes from a fresh IP bucket, so only the principal's
	// bucket can run dry. Root and versioned mounts share it.
	if code := hit("/contests", tokA, "198.51.100.1"); code == http.StatusTooManyRequests {
		t.Fatalf("first request limited")
	}
	if code := hit("/api/v1/contests", tokA, "198.51.100.2"); code == http.StatusTooManyRequests {
		t.Fatalf("second request limited")
	}
	if code := hit("/contests", tokA, "198.51.100.3"); code != http.StatusTooManyRequests {
		t.Fatalf("third request for same principal = %d, want 429", code)
	}
	if code := hit("/contests", tokB, "198.51.100.3"); code == http.StatusTooManyRequests {
		t.Fatalf("other principal should have its own bucket")
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for target, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", target, rec.Code, rec.Body.String())
		}
	}
}
