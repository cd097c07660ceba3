package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"association/api/internal/auth"
)

func doJSON(t *testing.T, handler http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, payload
}

func signIn(t *testing.T, handler http.Handler, emailAddress string) map[string]any {
	t.Helper()
	rr, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"`+emailAddress+`","password":"`+testPassword+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	return payload
}

func TestSignInReturnsContract(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	payload := signIn(t, handler, "  Member@Example.org ")

	token, _ := payload["accessToken"].(string)
	refreshToken, _ := payload["refreshToken"].(string)
	if token == "" {
		t.Fatalf("expected accessToken")
	}
	if refreshToken == "" {
		t.Fatalf("expected refreshToken")
	}
	if payload["userName"] != "Member" {
		t.Fatalf("expected userName Member, got %v", payload["userName"])
	}
	if payload["role"] != "member" {
		t.Fatalf("expected role member, got %v", payload["role"])
	}
	organs, _ := payload["organs"].([]any)
	if len(organs) != 1 || organs[0] != float64(f.organ.ID) {
		t.Fatalf("expected organs [%d], got %v", f.organ.ID, payload["organs"])
	}
	if _, ok := payload["expiresAt"].(float64); !ok {
		t.Fatalf("expected numeric expiresAt, got %v", payload["expiresAt"])
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"member@example.org","password":"wrong-password"}`)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("expected INVALID_CREDENTIALS, got %v", payload["code"])
	}
}

func TestSignInRejectsInvalidBody(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/auth/signin", "", `{"email":`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %v", payload["code"])
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr, payload := doJSON(t, handler, http.MethodGet, "/api/activities", "", "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload["code"] != codeUnauthorized {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}

func TestProtectedRouteWithInvalidBearerReturnsUnauthorized(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/activities", "not-a-token", "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	expired, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  f.member.UserID,
		Name: f.member.UserName,
		Role: f.member.Role,
		JTI:  "jti-expired",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/activities", expired, "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestProtectedRouteWithDeletedUserReturnsUnauthorized(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	orphan, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  "usr-missing",
		Role: "admin",
		JTI:  "jti-orphan",
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/activities", orphan, "")

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()
	first := signIn(t, handler, "member@example.org")
	refreshToken := first["refreshToken"].(string)

	rr, second := doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+refreshToken+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if second["refreshToken"] == refreshToken {
		t.Fatalf("expected a new refresh token")
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+refreshToken+`"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected reused refresh token to be rejected, got %d", rr.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()
	session := signIn(t, handler, "member@example.org")
	token := session["accessToken"].(string)

	rr, _ := doJSON(t, handler, http.MethodGet, "/api/activities", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 before logout, got %d", rr.Code)
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/logout", token, `{"refreshToken":"`+session["refreshToken"].(string)+`"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rr, _ = doJSON(t, handler, http.MethodGet, "/api/activities", token, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 after logout, got %d", rr.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr, anonymous := doJSON(t, handler, http.MethodGet, "/api/session", "", "")
	if rr.Code != http.StatusOK || anonymous["authenticated"] != false {
		t.Fatalf("expected anonymous session, got %d %v", rr.Code, anonymous)
	}

	token := signIn(t, handler, "board@example.org")["accessToken"].(string)
	rr, current := doJSON(t, handler, http.MethodGet, "/api/session", token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if current["authenticated"] != true || current["userName"] != "Board" || current["role"] != "board" {
		t.Fatalf("unexpected session payload %v", current)
	}
	if organs, ok := current["organs"].([]any); !ok || len(organs) != 0 {
		t.Fatalf("expected empty organs list, got %v", current["organs"])
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	handler := NewHTTPServer(f.svc, "*").Handler()

	rr, requested := doJSON(t, handler, http.MethodPost, "/api/auth/reset-password/request", "", `{"email":"member@example.org"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	token, _ := requested["devResetToken"].(string)
	if token == "" {
		t.Fatalf("expected devResetToken when mail is not configured")
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/reset-password", "", `{"token":"`+token+`","newPassword":"battery-staple-9"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	if _, err := f.svc.Login(context.Background(), "member@example.org", "battery-staple-9"); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}

	rr, _ = doJSON(t, handler, http.MethodPost, "/api/auth/reset-password", "", `{"token":"`+token+`","newPassword":"another-one-9"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected reused token to fail with 400, got %d", rr.Code)
	}
}
