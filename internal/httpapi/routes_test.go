package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/tabguard/tabguard/internal/engine"
	"github.com/tabguard/tabguard/internal/gateway"
	"github.com/tabguard/tabguard/internal/models"
	"github.com/tabguard/tabguard/internal/security"
	"github.com/tabguard/tabguard/internal/settings"
	"gorm.io/gorm"
)

type fakeOperator struct {
	session  engine.Session
	applyErr error
}

func (f *fakeOperator) Refresh(_ context.Context, domain string) engine.Session {
	session := f.session
	session.Domain = domain
	return session
}

func (f *fakeOperator) Apply(_ context.Context, req engine.ApplyRequest) (engine.Session, error) {
	if f.applyErr != nil {
		return engine.Session{}, f.applyErr
	}
	return engine.Session{Domain: req.Domain, State: engine.StateActive}, nil
}

func (f *fakeOperator) Remove(_ context.Context, req engine.RemoveRequest) (engine.Session, error) {
	return engine.Session{Domain: req.Domain, State: engine.StateReady}, nil
}

type fakeDisarmer struct {
	disarmed []string
}

func (f *fakeDisarmer) Disarm(_ context.Context, domain string) error {
	f.disarmed = append(f.disarmed, domain)
	return nil
}

type fakeProxyLister struct {
	calls   int
	proxies []any
	err     error
}

func (f *fakeProxyLister) ListProxies(_ context.Context) ([]any, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.proxies, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := conn.AutoMigrate(
		&models.Setting{},
		&models.PendingRestore{},
		&models.ScheduledTrigger{},
		&models.ProxyCache{},
	); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

// seedPairing stores a pairing hash and session secret into the global
// snapshot and returns the plaintext access key.
func seedPairing(t *testing.T) string {
	t.Helper()
	accessKey := "tg_test_access_key"
	hash, errHash := security.HashAccessKey(accessKey)
	if errHash != nil {
		t.Fatalf("hash: %v", errHash)
	}
	values := map[string]json.RawMessage{}
	for key, value := range map[string]string{
		settings.PairingKeyHashKey: hash,
		settings.SessionSecretKey:  "test-session-secret",
	} {
		encoded, _ := json.Marshal(value)
		values[key] = encoded
	}
	settings.StoreSnapshot(time.Now().UTC(), values)
	return accessKey
}

func newTestRouter(t *testing.T, db *gorm.DB, op Operator, disarmer Disarmer, proxies ProxyLister) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterAgentRoutes(r, db, op, disarmer, proxies)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func pairToken(t *testing.T, r *gin.Engine, accessKey string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v0/agent/pair", "", gin.H{"access_key": accessKey})
	if w.Code != http.StatusOK {
		t.Fatalf("pair: status %d body %s", w.Code, w.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode pair response: %v", errDecode)
	}
	return out.Token
}

func TestPairWrongKeyRejected(t *testing.T) {
	seedPairing(t)
	r := newTestRouter(t, openTestDB(t), &fakeOperator{}, &fakeDisarmer{}, &fakeProxyLister{})

	w := doJSON(t, r, http.MethodPost, "/v0/agent/pair", "", gin.H{"access_key": "tg_wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d", w.Code)
	}
	if bytes.Contains(w.Body.Bytes(), []byte("token")) {
		t.Fatalf("token leaked: %s", w.Body.String())
	}
}

func TestPairRightKeyTokenPassesMiddleware(t *testing.T) {
	accessKey := seedPairing(t)
	op := &fakeOperator{session: engine.Session{State: engine.StateReady}}
	r := newTestRouter(t, openTestDB(t), op, &fakeDisarmer{}, &fakeProxyLister{})

	token := pairToken(t, r, accessKey)
	w := doJSON(t, r, http.MethodGet, "/v0/agent/status?domain=example.com", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
}

func TestAuthedRoutesRejectMissingToken(t *testing.T) {
	seedPairing(t)
	r := newTestRouter(t, openTestDB(t), &fakeOperator{}, &fakeDisarmer{}, &fakeProxyLister{})

	w := doJSON(t, r, http.MethodGet, "/v0/agent/status?domain=example.com", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestApplyValidationErrorMapsTo400(t *testing.T) {
	accessKey := seedPairing(t)
	op := &fakeOperator{applyErr: &engine.ValidationError{Message: "redirect requires a proxy selection"}}
	r := newTestRouter(t, openTestDB(t), op, &fakeDisarmer{}, &fakeProxyLister{})

	token := pairToken(t, r, accessKey)
	w := doJSON(t, r, http.MethodPost, "/v0/agent/rules/apply", token, engine.ApplyRequest{Domain: "example.com", Action: gateway.ActionRedirect})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestApplyGatewayErrorMapsTo502(t *testing.T) {
	accessKey := seedPairing(t)
	op := &fakeOperator{applyErr: &gateway.GatewayError{Message: "profile locked", Status: 403}}
	r := newTestRouter(t, openTestDB(t), op, &fakeDisarmer{}, &fakeProxyLister{})

	token := pairToken(t, r, accessKey)
	w := doJSON(t, r, http.MethodPost, "/v0/agent/rules/apply", token, engine.ApplyRequest{Domain: "example.com", Action: gateway.ActionBlock})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d", w.Code)
	}
}

func TestProxiesSecondCallWithinTTLSkipsUpstream(t *testing.T) {
	accessKey := seedPairing(t)
	lister := &fakeProxyLister{proxies: []any{map[string]any{"PK": "proxy-nyc"}}}
	r := newTestRouter(t, openTestDB(t), &fakeOperator{}, &fakeDisarmer{}, lister)

	token := pairToken(t, r, accessKey)
	first := doJSON(t, r, http.MethodGet, "/v0/agent/proxies", token, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first call: status %d", first.Code)
	}
	second := doJSON(t, r, http.MethodGet, "/v0/agent/proxies", token, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("second call: status %d", second.Code)
	}
	if lister.calls != 1 {
		t.Fatalf("upstream calls: got %d want 1", lister.calls)
	}

	var out struct {
		Cached bool `json:"cached"`
	}
	if errDecode := json.Unmarshal(second.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if !out.Cached {
		t.Fatal("second response not served from cache")
	}
}

func TestProxiesStaleCacheRefetches(t *testing.T) {
	accessKey := seedPairing(t)
	conn := openTestDB(t)
	stale := models.ProxyCache{
		ID:        1,
		Payload:   []byte(`[{"PK":"proxy-old"}]`),
		FetchedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	if errCreate := conn.Create(&stale).Error; errCreate != nil {
		t.Fatalf("seed cache: %v", errCreate)
	}

	lister := &fakeProxyLister{proxies: []any{map[string]any{"PK": "proxy-new"}}}
	r := newTestRouter(t, conn, &fakeOperator{}, &fakeDisarmer{}, lister)
	token := pairToken(t, r, accessKey)

	w := doJSON(t, r, http.MethodGet, "/v0/agent/proxies", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d body %s", w.Code, w.Body.String())
	}
	if lister.calls != 1 {
		t.Fatalf("upstream calls: got %d want 1", lister.calls)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("proxy-new")) {
		t.Fatalf("response still stale: %s", w.Body.String())
	}
}

func TestOverridesListAndCancel(t *testing.T) {
	accessKey := seedPairing(t)
	conn := openTestDB(t)
	action := gateway.ActionBypass
	if errCreate := conn.Create(&models.PendingRestore{Domain: "example.com", Action: &action}).Error; errCreate != nil {
		t.Fatalf("seed restore: %v", errCreate)
	}
	if errCreate := conn.Create(&models.ScheduledTrigger{
		Name:   "reapply_rule_example.com",
		Kind:   "reapply",
		Domain: "example.com",
		FireAt: time.Now().UTC().Add(5 * time.Minute),
	}).Error; errCreate != nil {
		t.Fatalf("seed trigger: %v", errCreate)
	}

	disarmer := &fakeDisarmer{}
	r := newTestRouter(t, conn, &fakeOperator{}, disarmer, &fakeProxyLister{})
	token := pairToken(t, r, accessKey)

	w := doJSON(t, r, http.MethodGet, "/v0/agent/overrides", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var out struct {
		PendingRestores []map[string]any `json:"pending_restores"`
		Triggers        []map[string]any `json:"triggers"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if len(out.PendingRestores) != 1 || len(out.Triggers) != 1 {
		t.Fatalf("list: %+v", out)
	}

	w = doJSON(t, r, http.MethodDelete, "/v0/agent/overrides/example.com", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status %d", w.Code)
	}
	if len(disarmer.disarmed) != 1 || disarmer.disarmed[0] != "example.com" {
		t.Fatalf("disarmed: %v", disarmer.disarmed)
	}
}

func TestSettingsUpdateRefreshesSnapshot(t *testing.T) {
	accessKey := seedPairing(t)
	conn := openTestDB(t)
	// Persist the pairing rows so the snapshot refresh keeps them.
	ctx := context.Background()
	hash, _ := settings.StringValue(settings.PairingKeyHashKey)
	secret, _ := settings.StringValue(settings.SessionSecretKey)
	if errUpsert := settings.Upsert(ctx, conn, settings.PairingKeyHashKey, hash); errUpsert != nil {
		t.Fatalf("seed hash: %v", errUpsert)
	}
	if errUpsert := settings.Upsert(ctx, conn, settings.SessionSecretKey, secret); errUpsert != nil {
		t.Fatalf("seed secret: %v", errUpsert)
	}

	r := newTestRouter(t, conn, &fakeOperator{}, &fakeDisarmer{}, &fakeProxyLister{})
	token := pairToken(t, r, accessKey)

	w := doJSON(t, r, http.MethodPut, "/v0/agent/settings", token, gin.H{
		"credential": "new-credential-0123456789",
		"profile_id": "prof_2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", w.Code, w.Body.String())
	}

	credential, _ := settings.StringValue(settings.PolicyCredentialKey)
	if credential != "new-credential-0123456789" {
		t.Fatalf("snapshot credential: got %q", credential)
	}

	// Responses carry the masked credential, never the raw value.
	var out struct {
		Credential  string    `json:"credential"`
		ProfileID   string    `json:"profile_id"`
		RefreshedAt time.Time `json:"refreshed_at"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &out); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if out.Credential == "new-credential-0123456789" {
		t.Fatal("credential not masked")
	}
	if out.ProfileID != "prof_2" {
		t.Fatalf("profile: got %q", out.ProfileID)
	}
	if out.RefreshedAt.IsZero() {
		t.Fatal("refreshed_at missing from settings response")
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	r := newTestRouter(t, openTestDB(t), &fakeOperator{}, &fakeDisarmer{}, &fakeProxyLister{})
	w := doJSON(t, r, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
}
