package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doJSON(t *testing.T, s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.Router.ServeHTTP(w, req)
	return w
}

func TestRegisterLoginAndManage(t *testing.T) {
	s := newTestServer(t, "defaults:\n  allow_weekend: true\n")

	// Register.
	w := doJSON(t, s, http.MethodPost, "/api/auth/register", `{"name":"ops","password":"longenough"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	var reg struct {
		AccountID     string `json:"account_id"`
		WebhookSecret string `json:"webhook_secret"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if reg.AccountID == "" || reg.WebhookSecret == "" {
		t.Fatalf("register response incomplete: %+v", reg)
	}

	// Login.
	w = doJSON(t, s, http.MethodPost, "/api/auth/login", `{"account_id":"`+reg.AccountID+`","password":"longenough"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	// Protected route with the token.
	w = doJSON(t, s, http.MethodGet, "/api/positions", "", login.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("positions status = %d, body %s", w.Code, w.Body.String())
	}

	// Kill switch toggle applies to the risk settings.
	w = doJSON(t, s, http.MethodPost, "/api/risk/killswitch", `{"venue":"bitflex","enabled":true}`, login.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("killswitch status = %d, body %s", w.Code, w.Body.String())
	}
	if !s.Settings.For(reg.AccountID, "bitflex").KillSwitch {
		t.Fatal("kill switch not applied")
	}
}

func TestProtectedRouteRejectsBadTokens(t *testing.T) {
	s := newTestServer(t, "defaults: {}\n")

	w := doJSON(t, s, http.MethodGet, "/api/positions", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/positions", "", "garbage")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", w.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t, "defaults: {}\n")

	w := doJSON(t, s, http.MethodPost, "/api/auth/register", `{"name":"ops","password":"longenough"}`, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}
	var reg struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	w = doJSON(t, s, http.MethodPost, "/api/auth/login", `{"account_id":"`+reg.AccountID+`","password":"wrong"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", w.Code)
	}
}
