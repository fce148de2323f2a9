package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lherron/fieldsync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		UpdateID:        "0b0e7c1e-1111-4a4a-9c9c-000000000001",
		TargetID:        "C1",
		MilestoneName:   "Install",
		Value:           domain.PercentValue(60),
		ActorID:         "fitter-7",
		ClientCreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestApplyMilestoneUpdate_Success(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/milestones/apply", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		prev := domain.PercentValue(20)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Result{
			NewState:        domain.MilestoneState{"Install": domain.PercentValue(60)},
			PreviousValue:   &prev,
			AuditID:         42,
			PercentComplete: 48,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithToken("secret"))
	res, err := c.ApplyMilestoneUpdate(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, testRequest(), got)
	assert.Equal(t, int64(42), res.AuditID)
	assert.Equal(t, 48.0, res.PercentComplete)
	require.NotNil(t, res.PreviousValue)
	assert.Equal(t, 20, res.PreviousValue.Percent())
	assert.True(t, res.NewState["Install"].Equal(domain.PercentValue(60)))
}

func TestApplyMilestoneUpdate_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusConflict, domain.IsConflict},
		{http.StatusNotFound, domain.IsConflict},
		{http.StatusUnauthorized, domain.IsAuth},
		{http.StatusForbidden, domain.IsAuth},
		{http.StatusInternalServerError, domain.IsTransient},
		{http.StatusBadGateway, domain.IsTransient},
		{http.StatusTooManyRequests, domain.IsTransient},
		{http.StatusBadRequest, domain.IsTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).ApplyMilestoneUpdate(context.Background(), testRequest())
			require.Error(t, err)
			assert.True(t, tt.check(err), "status %d gave %v", tt.status, err)
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestApplyMilestoneUpdate_ConflictCarriesTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"updated by another actor"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ApplyMilestoneUpdate(context.Background(), testRequest())
	var ce *domain.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "C1", ce.TargetID)
	assert.Equal(t, "Install", ce.MilestoneName)
	assert.Equal(t, "updated by another actor", ce.Reason)
}

func TestApplyMilestoneUpdate_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	_, err := c.ApplyMilestoneUpdate(context.Background(), testRequest())
	assert.True(t, domain.IsTransient(err), "got %v", err)
}

func TestApplyMilestoneUpdate_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).ApplyMilestoneUpdate(context.Background(), testRequest())
	assert.True(t, domain.IsTransient(err), "got %v", err)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, WithToken("ok")).Health(context.Background()))
	assert.True(t, domain.IsAuth(NewClient(srv.URL).Health(context.Background())))
}

func TestComponent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "C1", body["id"])
		_, _ = w.Write([]byte(`{"id":"C1","template":"spool","state":{"Receive":true,"Install":40},"percent_complete":42,"etag":3}`))
	}))
	defer srv.Close()

	comp, err := NewClient(srv.URL).Component(context.Background(), "C1")
	require.NoError(t, err)
	assert.Equal(t, "spool", comp.Template)
	assert.True(t, comp.State["Receive"].Bool())
	assert.Equal(t, 40, comp.State["Install"].Percent())
	assert.Equal(t, int64(3), comp.ETag)
}
