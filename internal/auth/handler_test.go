package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"arduinohub/pkg/database"
)

func newTestRouter(t *testing.T) (*gin.Engine, TokenService) {
	t.Helper()
	return newTestRouterWith(t, nil)
}

func newTestRouterWith(t *testing.T, onRevoke func(userID string)) (*gin.Engine, TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "auth.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}

	tokens := TokenService{Secret: []byte("test-secret"), Issuer: "arduinohub-test", Duration: time.Hour}
	r := gin.New()
	h := NewHandler(NewRepo(db), tokens)
	h.OnRevoke = onRevoke
	h.RegisterRoutes(r.Group("/auth"))
	return r, tokens
}

func do(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type authResp struct {
	Token string `json:"token"`
	User  struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
}

func register(t *testing.T, r http.Handler) authResp {
	t.Helper()
	w := do(r, http.MethodPost, "/auth/register", "", gin.H{
		"username": "maker", "email": "Maker@Example.com", "password": "solder-123",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body)
	}
	var out authResp
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRegisterLoginMe(t *testing.T) {
	r, _ := newTestRouter(t)
	reg := register(t, r)
	if reg.Token == "" || reg.User.Username != "maker" {
		t.Fatalf("register response: %+v", reg)
	}

	w := do(r, http.MethodPost, "/auth/login", "", gin.H{"email": "maker@example.com", "password": "solder-123"})
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body)
	}
	var login authResp
	_ = json.Unmarshal(w.Body.Bytes(), &login)

	w = do(r, http.MethodGet, "/auth/me", login.Token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("me: %d %s", w.Code, w.Body)
	}
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"short username", gin.H{"username": "ab", "email": "a@b.c", "password": "longenough"}, http.StatusBadRequest},
		{"bad email", gin.H{"username": "abc", "email": "nope", "password": "longenough"}, http.StatusBadRequest},
		{"short password", gin.H{"username": "abc", "email": "a@b.c", "password": "short"}, http.StatusBadRequest},
		{"duplicate email", gin.H{"username": "other", "email": "maker@example.com", "password": "longenough"}, http.StatusConflict},
		{"duplicate username", gin.H{"username": "maker", "email": "x@y.z", "password": "longenough"}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, http.MethodPost, "/auth/register", "", tt.body); w.Code != tt.want {
				t.Errorf("got %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	r, _ := newTestRouter(t)
	register(t, r)

	w := do(r, http.MethodPost, "/auth/login", "", gin.H{"email": "maker@example.com", "password": "wrong-pass"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("got %d", w.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	r, _ := newTestRouter(t)
	reg := register(t, r)

	if w := do(r, http.MethodPost, "/auth/logout", reg.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", w.Code, w.Body)
	}
	if w := do(r, http.MethodGet, "/auth/me", reg.Token, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("old token still accepted: %d", w.Code)
	}
}

func TestQueryTokenOnGetOnly(t *testing.T) {
	r, _ := newTestRouter(t)
	reg := register(t, r)

	req := httptest.NewRequest(http.MethodGet, "/auth/me?token="+reg.Token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET with query token: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/logout?token="+reg.Token, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token: %d", w.Code)
	}
}

func TestTokenServiceRejectsForeignIssuer(t *testing.T) {
	u := &User{ID: "u1", Username: "maker", Email: "m@x.y"}
	other := TokenService{Secret: []byte("test-secret"), Issuer: "someone-else", Duration: time.Hour}
	tok, _, err := other.Sign(u)
	if err != nil {
		t.Fatal(err)
	}

	ts := TokenService{Secret: []byte("test-secret"), Issuer: "arduinohub-test", Duration: time.Hour}
	if _, err := ts.Parse(tok); err == nil {
		t.Error("token from another issuer accepted")
	}

	own, _, _ := ts.Sign(u)
	claims, err := ts.Parse(own)
	if err != nil || claims.UserID != "u1" {
		t.Errorf("own token: %+v, %v", claims, err)
	}
}

func TestRevocationNotifiesHook(t *testing.T) {
	var revoked []string
	r, _ := newTestRouterWith(t, func(userID string) { revoked = append(revoked, userID) })
	reg := register(t, r)

	// a rejected password change revokes nothing
	w := do(r, http.MethodPost, "/auth/change-password", reg.Token, gin.H{"old_password": "wrong-pass", "new_password": "new-solder-1"})
	if w.Code != http.StatusUnauthorized || len(revoked) != 0 {
		t.Fatalf("bad old password: %d, revoked %v", w.Code, revoked)
	}

	w = do(r, http.MethodPost, "/auth/change-password", reg.Token, gin.H{"old_password": "solder-123", "new_password": "new-solder-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("change password: %d %s", w.Code, w.Body)
	}
	if len(revoked) != 1 || revoked[0] != reg.User.ID {
		t.Fatalf("after password change: %v", revoked)
	}

	w = do(r, http.MethodPost, "/auth/login", "", gin.H{"email": "maker@example.com", "password": "new-solder-1"})
	var login authResp
	_ = json.Unmarshal(w.Body.Bytes(), &login)
	if w.Code != http.StatusOK {
		t.Fatalf("login with new password: %d", w.Code)
	}

	if w := do(r, http.MethodPost, "/auth/logout", login.Token, nil); w.Code != http.StatusOK {
		t.Fatalf("logout: %d", w.Code)
	}
	if len(revoked) != 2 || revoked[1] != reg.User.ID {
		t.Errorf("after logout: %v", revoked)
	}
}
