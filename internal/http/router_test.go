package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-negotiation-backend/internal/config"
	"github.com/tbourn/go-negotiation-backend/internal/domain"
	"github.com/tbourn/go-negotiation-backend/internal/http/middleware"
	"github.com/tbourn/go-negotiation-backend/internal/provider"
	"github.com/tbourn/go-negotiation-backend/internal/repo"
)

// --- tiny fake gateway satisfying services.CompletionGateway ---
type fakeGateway struct {
	reply string
	err   error
}

func (g fakeGateway) Complete(_ context.Context, _ string, _ string, _ provider.Options) (string, error) {
	return g.reply, g.err
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:routerdb_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		AdminToken:  "s3cret",
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Providers:   config.ProviderConfig{Primary: "openai", Fallback: "groq", Temperature: 0.7, MaxTokens: 300},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	RegisterRoutes(r, db, fakeGateway{reply: "ok"}, testConfig())

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}

	RegisterRoutes(r, db, fakeGateway{reply: "ok"}, cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
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

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// doJSON posts a JSON body through the full router and decodes the response.
func doJSON(t *testing.T, r *gin.Engine, method, path, userID string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s response: %v\n%s", method, path, err, w.Body.String())
		}
	}
	return w
}

// End-to-end: open a negotiation, haggle, read the transcript.
func TestNegotiationFlow_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	gw := fakeGateway{reply: "I can meet you at $18.99 - does that work for you?"}
	RegisterRoutes(r, db, gw, testConfig())

	p, err := repo.CreateProduct(context.Background(), db, "Espresso Machine", "9 bar pump", 19.99, 2.00)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Open
	var start struct {
		SessionID    string  `json:"session_id"`
		Greeting     string  `json:"greeting"`
		CurrentPrice float64 `json:"current_price"`
	}
	w := doJSON(t, r, http.MethodPost, "/api/v1/negotiations", "u1", gin.H{"product_id": p.ID}, &start)
	if w.Code != http.StatusCreated || start.SessionID == "" || start.CurrentPrice != 19.99 {
		t.Fatalf("open: code=%d body=%s", w.Code, w.Body.String())
	}

	// Haggle
	var turn struct {
		Reply        *string `json:"reply"`
		CurrentPrice float64 `json:"current_price"`
	}
	w = doJSON(t, r, http.MethodPost, "/api/v1/negotiations/"+start.SessionID+"/messages", "u1",
		gin.H{"content": "Can I get a discount?"}, &turn)
	if w.Code != http.StatusOK || turn.Reply == nil || turn.CurrentPrice != 18.99 {
		t.Fatalf("turn: code=%d body=%s", w.Code, w.Body.String())
	}

	// Transcript
	var tr struct {
		Messages     []map[string]string `json:"messages"`
		CurrentPrice float64             `json:"current_price"`
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/negotiations/"+start.SessionID+"/messages", "u1", nil, &tr)
	if w.Code != http.StatusOK || len(tr.Messages) != 3 || tr.CurrentPrice != 18.99 {
		t.Fatalf("transcript: code=%d body=%s", w.Code, w.Body.String())
	}

	// Another customer is locked out.
	w = doJSON(t, r, http.MethodGet, "/api/v1/negotiations/"+start.SessionID+"/messages", "u2", nil, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign transcript: expected 403, got %d", w.Code)
	}
}

// End-to-end over the admin surface: token gate, override, terminate.
func TestAdminFlow_EndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	RegisterRoutes(r, db, fakeGateway{reply: "sure"}, testConfig())

	p, err := repo.CreateProduct(context.Background(), db, "Espresso Machine", "9 bar pump", 19.99, 2.00)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	var start struct {
		SessionID string `json:"session_id"`
	}
	doJSON(t, r, http.MethodPost, "/api/v1/negotiations", "u1", gin.H{"product_id": p.ID}, &start)

	adminReq := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			_ = json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderAdminToken, "s3cret")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Without the token the surface is closed.
	w := doJSON(t, r, http.MethodGet, "/api/v1/admin/sessions", "", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated admin list: expected 401, got %d", w.Code)
	}

	// Override above list price.
	w = adminReq(http.MethodPut, "/api/v1/admin/sessions/"+start.SessionID+"/price", gin.H{"price": "25.00"})
	if w.Code != http.StatusOK {
		t.Fatalf("override: code=%d body=%s", w.Code, w.Body.String())
	}

	// Customer turn after handoff: null reply, admin price.
	var turn struct {
		Reply        *string `json:"reply"`
		CurrentPrice float64 `json:"current_price"`
	}
	w = doJSON(t, r, http.MethodPost, "/api/v1/negotiations/"+start.SessionID+"/messages", "u1",
		gin.H{"content": "any discount?"}, &turn)
	if w.Code != http.StatusOK || turn.Reply != nil || turn.CurrentPrice != 25.00 {
		t.Fatalf("post-handoff turn: code=%d body=%s", w.Code, w.Body.String())
	}

	// Sessions listing shows the human bucket.
	w = adminReq(http.MethodGet, "/api/v1/admin/sessions?state=human", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list human: code=%d body=%s", w.Code, w.Body.String())
	}

	// Terminate, then the customer is refused.
	w = adminReq(http.MethodPost, "/api/v1/admin/sessions/"+start.SessionID+"/terminate", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("terminate: code=%d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/api/v1/negotiations/"+start.SessionID+"/messages", "u1",
		gin.H{"content": "hello?"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("closed turn: expected 409, got %d", w.Code)
	}
}

func TestRegisterRoutes_IdempotencyCallback_MissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)
	RegisterRoutes(r, db, fakeGateway{reply: "ok"}, testConfig())

	const userID = "u1"
	const key = "key-hit"
	const sessionID = "" // we hit /health, so no path param

	// --- MISS: record does not exist (executes 'rec == nil' branch) ---
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set(middleware.HeaderIdempotencyKey, key)
	r.ServeHTTP(w, req)
	// NoMethod is expected for POST /health, but middleware ran.

	// --- seed an idempotency record so the callback returns non-nil ---
	seed := &domain.Idempotency{
		ID:         "idem-seed-1",
		CustomerID: userID,
		SessionID:  sessionID,
		Key:        key,
		MessageID:  "m-1",
		Status:     1,
		// ensure it's considered valid "now"
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := db.Create(seed).Error; err != nil {
		t.Fatalf("seed idempotency: %v", err)
	}

	// --- HIT: record exists (executes 'return true, nil' branch) ---
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set(middleware.HeaderIdempotencyKey, key)
	r.ServeHTTP(w, req)
	// again, 405 is fine; goal is to drive the middleware branch.
}

func TestRegisterRoutes_IdempotencyCallback_ErrorBranch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	db := newTestDB(t)

	// Wire routes first...
	RegisterRoutes(r, db, fakeGateway{reply: "ok"}, testConfig())

	// ...then force queries to fail by closing the underlying connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	// Now any repo.GetIdempotency call should error → drives (err != nil) branch.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set(middleware.HeaderIdempotencyKey, "force-error")
	r.ServeHTTP(w, req)

	// 405 is expected for POST /health; goal is to exercise the middleware branch.
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
