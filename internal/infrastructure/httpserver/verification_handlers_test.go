package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/core/ports"
	"github.com/avatarctic/email-verification/internal/infrastructure/httpserver"
	"github.com/avatarctic/email-verification/internal/mocks"
)

func newTestServer(svc ports.VerificationService, checkers ...ports.HealthChecker) *httpserver.Server {
	return newTestServerWithClock(svc, nil, checkers...)
}

func newTestServerWithClock(svc ports.VerificationService, clock ports.Clock, checkers ...ports.HealthChecker) *httpserver.Server {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return httpserver.NewServer(
		&httpserver.ServerConfig{Host: "127.0.0.1", Port: "0", ReadTimeout: time.Second, WriteTimeout: time.Second, IdleTimeout: time.Second},
		logger,
		httpserver.ServerDeps{VerificationService: svc, HealthCheckers: checkers, ResendCooldown: time.Minute, Clock: clock},
	)
}

func do(t *testing.T, srv *httpserver.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func sampleSession(handle string) *verification.Session {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &verification.Session{
		SessionHandle: handle,
		Email:         "a@x.com",
		Code:          "424242",
		ExpiresAt:     now.Add(10 * time.Minute),
		LastSentAt:    now,
		Purpose:       verification.PurposeRegistration,
		Status:        verification.StatusPending,
	}
}

func TestStartVerification_Created(t *testing.T) {
	var gotEmail string
	var gotPurpose verification.Purpose
	svc := &mocks.VerificationServiceMock{StartFn: func(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
		gotEmail, gotPurpose = email, purpose
		return sampleSession("h1"), nil
	}}
	srv := newTestServer(svc)

	rec := do(t, srv, http.MethodPost, "/api/v1/verifications", `{"email":"a@x.com","purpose":"registration"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "a@x.com", gotEmail)
	assert.Equal(t, verification.PurposeRegistration, gotPurpose)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "h1", body["session_handle"])
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "code")
	assert.NotContains(t, rec.Body.String(), "424242")
}

func TestStartVerification_BadRequests(t *testing.T) {
	svc := &mocks.VerificationServiceMock{StartFn: func(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
		if !purpose.IsValid() {
			return nil, verification.ErrInvalidPurpose
		}
		return sampleSession("h1"), nil
	}}
	srv := newTestServer(svc)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"email":`},
		{name: "missing email", body: `{"purpose":"registration"}`},
		{name: "invalid email", body: `{"email":"nope","purpose":"registration"}`},
		{name: "unknown purpose", body: `{"email":"a@x.com","purpose":"login"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/verifications", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStartVerification_DeliveryFailureReturnsHandle(t *testing.T) {
	svc := &mocks.VerificationServiceMock{StartFn: func(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
		return sampleSession("h1"), errors.New("failed to send verification email: smtp down")
	}}
	srv := newTestServer(svc)

	rec := do(t, srv, http.MethodPost, "/api/v1/verifications", `{"email":"a@x.com","purpose":"registration"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"session_handle":"h1"`)
	assert.NotContains(t, rec.Body.String(), "smtp down")
}

func TestResendVerification_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: verification.ErrSessionNotFound, want: http.StatusNotFound},
		{err: verification.ErrSessionLocked, want: http.StatusConflict},
		{err: verification.ErrAlreadyCompleted, want: http.StatusConflict},
		{err: verification.ErrResendLimitReached, want: http.StatusTooManyRequests},
		{err: fmt.Errorf("failed to get verification session: %w", errors.New("db down")), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &mocks.VerificationServiceMock{ResendFn: func(ctx context.Context, handle string) (*verification.Session, error) {
				return nil, tt.err
			}}
			rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/verifications/h1/resend", "")
			assert.Equal(t, tt.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestResendVerification_CooldownSetsRetryAfter(t *testing.T) {
	session := sampleSession("h1")
	clock := mocks.NewFakeClock(session.LastSentAt.Add(15 * time.Second))
	svc := &mocks.VerificationServiceMock{
		ResendFn: func(ctx context.Context, handle string) (*verification.Session, error) {
			return nil, verification.ErrCooldownActive
		},
		GetFn: func(ctx context.Context, handle string) (*verification.Session, error) { return session, nil },
	}

	srv := newTestServerWithClock(svc, clock)

	rec := do(t, srv, http.MethodPost, "/api/v1/verifications/h1/resend", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "45", rec.Header().Get("Retry-After"))

	clock.Advance(44*time.Second + 500*time.Millisecond)
	rec = do(t, srv, http.MethodPost, "/api/v1/verifications/h1/resend", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestResendVerification_OK(t *testing.T) {
	svc := &mocks.VerificationServiceMock{ResendFn: func(ctx context.Context, handle string) (*verification.Session, error) {
		s := sampleSession(handle)
		s.ResendCount = 1
		return s, nil
	}}

	rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/verifications/h9/resend", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view verification.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "h9", view.SessionHandle)
	assert.Equal(t, 1, view.ResendCount)
}

func TestVerifyCode(t *testing.T) {
	status := verification.StatusPending
	svc := &mocks.VerificationServiceMock{
		VerifyFn: func(ctx context.Context, handle, code string) (bool, error) {
			if code == "424242" {
				status = verification.StatusVerified
				return true, nil
			}
			return false, nil
		},
		GetFn: func(ctx context.Context, handle string) (*verification.Session, error) {
			s := sampleSession(handle)
			s.Status = status
			return s, nil
		},
	}
	srv := newTestServer(svc)

	rec := do(t, srv, http.MethodPost, "/api/v1/verifications/h1/verify", `{"code":"111111"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp verification.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Verified)
	assert.Equal(t, verification.StatusPending, resp.Status)

	rec = do(t, srv, http.MethodPost, "/api/v1/verifications/h1/verify", `{"code":"424242"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Verified)
	assert.Equal(t, verification.StatusVerified, resp.Status)

	rec = do(t, srv, http.MethodPost, "/api/v1/verifications/h1/verify", `{"code":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyCode_UnknownHandle(t *testing.T) {
	svc := &mocks.VerificationServiceMock{} // Verify false, Get not found
	rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/verifications/missing/verify", `{"code":"123456"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetVerification(t *testing.T) {
	svc := &mocks.VerificationServiceMock{GetFn: func(ctx context.Context, handle string) (*verification.Session, error) {
		if handle != "h1" {
			return nil, verification.ErrSessionNotFound
		}
		return sampleSession(handle), nil
	}}
	srv := newTestServer(svc)

	rec := do(t, srv, http.MethodGet, "/api/v1/verifications/h1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "424242")

	rec = do(t, srv, http.MethodGet, "/api/v1/verifications/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteVerification(t *testing.T) {
	var completed []string
	svc := &mocks.VerificationServiceMock{CompleteFn: func(ctx context.Context, handle string) error {
		completed = append(completed, handle)
		return nil
	}}

	rec := do(t, newTestServer(svc), http.MethodPost, "/api/v1/verifications/h1/complete", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"h1"}, completed)
}

func TestHealthCheck(t *testing.T) {
	healthy := &mocks.HealthCheckerMock{NameValue: "database"}
	srv := newTestServer(&mocks.VerificationServiceMock{}, healthy)

	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"healthy"`)

	failing := &mocks.HealthCheckerMock{NameValue: "redis", Err: errors.New("connection refused")}
	srv = newTestServer(&mocks.VerificationServiceMock{}, healthy, failing)

	rec = do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), `"redis":"unhealthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	svc := &mocks.VerificationServiceMock{CompleteFn: func(ctx context.Context, handle string) error { return nil }}
	srv := newTestServer(svc)

	do(t, srv, http.MethodPost, "/api/v1/verifications/h1/complete", "")
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `verification_operations_total{operation="complete",outcome="ok"}`)
	assert.Contains(t, rec.Body.String(), `endpoint="/api/v1/verifications/:handle/complete"`)
	assert.NotContains(t, rec.Body.String(), "/api/v1/verifications/h1")
}
