package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finsense/api/internal/auth"
	"finsense/api/internal/store"
)

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func issueTestToken(t *testing.T, userID string, expiresAt time.Time) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:   userID,
		Phone: "+15550100",
		JTI:   "jti-test",
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		t.Fatalf("issue test token: %v", err)
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		OK bool `json:"ok"`
	}
	decodeResponse(t, recorder, &body)
	if !body.OK {
		t.Fatal("expected ok=true")
	}
}

func TestRegisterExposesDevCodeWithoutSMSGateway(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodPost, "/api/register", "", map[string]string{"phone": "+15550100"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var body struct {
		OK      bool   `json:"ok"`
		DevCode string `json:"devCode"`
	}
	decodeResponse(t, recorder, &body)
	if !body.OK || body.DevCode != "123456" {
		t.Fatalf("unexpected register response: %s", recorder.Body.String())
	}
}

func TestRegisterRejectsMalformedJSON(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/register", bytes.NewReader([]byte("{")))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	var body struct {
		Code string `json:"code"`
	}
	decodeResponse(t, recorder, &body)
	if body.Code != "INVALID_BODY" {
		t.Fatalf("expected INVALID_BODY, got %q", body.Code)
	}
}

func TestVerifyOTPReturnsBearerToken(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodPost, "/api/verify-otp", "", map[string]string{
		"phone": "+15550100",
		"code":  "123456",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var body struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
		UserID      string `json:"userId"`
		ExpiresAt   int64  `json:"expiresAt"`
	}
	decodeResponse(t, recorder, &body)
	if body.TokenType != "bearer" || body.UserID != "usr-1" || body.AccessToken == "" {
		t.Fatalf("unexpected verify response: %s", recorder.Body.String())
	}
	if body.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected future expiry, got %d", body.ExpiresAt)
	}
}

func TestSyncRequiresBearerToken(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()

	recorder := doRequest(t, handler, http.MethodPost, "/api/sync", "", map[string]any{"changes": []any{}})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestSyncRejectsExpiredToken(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()

	token := issueTestToken(t, "usr-1", time.Now().Add(-time.Minute))
	recorder := doRequest(t, handler, http.MethodPost, "/api/sync", token, map[string]any{"changes": []any{}})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestDeviceRegisterValidatesInput(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()
	token := issueTestToken(t, "usr-1", time.Now().Add(time.Hour))

	recorder := doRequest(t, handler, http.MethodPost, "/api/device/register", token, map[string]string{
		"deviceId": "device-a",
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestEncryptedProfileRoundTrip(t *testing.T) {
	var saved store.EncryptedProfile
	fs := &fakeStore{
		insertEncryptedProfileFn: func(_ context.Context, profile store.EncryptedProfile) error {
			saved = profile
			return nil
		},
		latestEncryptedProfileFn: func(_ context.Context, userID string) (store.EncryptedProfile, error) {
			if saved.ID == "" {
				return store.EncryptedProfile{}, sql.ErrNoRows
			}
			return saved, nil
		},
	}
	handler := NewHTTPServer(newTestService(fs, &fakeOTP{}), "*").Handler()
	token := issueTestToken(t, "usr-1", time.Now().Add(time.Hour))

	recorder := doRequest(t, handler, http.MethodGet, "/api/profile/encrypted", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upload, got %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/profile/encrypted", token, map[string]string{
		"ciphertextB64": "Y2lwaGVy",
		"ivB64":         "aXY=",
		"tagB64":        "dGFn",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if saved.UserID != "usr-1" || saved.CiphertextB64 != "Y2lwaGVy" {
		t.Fatalf("unexpected stored profile: %+v", saved)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/profile/encrypted", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var body struct {
		CiphertextB64 string `json:"ciphertextB64"`
		IVB64         string `json:"ivB64"`
		TagB64        string `json:"tagB64"`
	}
	decodeResponse(t, recorder, &body)
	if body.CiphertextB64 != "Y2lwaGVy" || body.IVB64 != "aXY=" || body.TagB64 != "dGFn" {
		t.Fatalf("unexpected profile response: %s", recorder.Body.String())
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "*").Handler()
	token := issueTestToken(t, "usr-1", time.Now().Add(time.Hour))

	recorder := doRequest(t, handler, http.MethodPost, "/api/nope", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestPreflightRequestShortCircuits(t *testing.T) {
	handler := NewHTTPServer(newTestService(&fakeStore{}, &fakeOTP{}), "https://app.example.com").Handler()

	recorder := doRequest(t, handler, http.MethodOptions, "/api/sync", "", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
}
