package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
)

// mockFitnessService はFitnessServiceInterfaceのモック実装。
type mockFitnessService struct {
	currentFn func(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error)
}

func (m *mockFitnessService) Current(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error) {
	if m.currentFn != nil {
		return m.currentFn(ctx, userID, asOf, lookbackDays)
	}
	return nil, nil
}

func TestFitnessHandler_Get(t *testing.T) {
	svc := &mockFitnessService{
		currentFn: func(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error) {
			if userID != "user-123" {
				t.Errorf("userID = %q, want %q", userID, "user-123")
			}
			if lookbackDays != 42 {
				t.Errorf("lookbackDays = %d, want 42", lookbackDays)
			}
			return &model.LoadSummary{
				CTL:      55.2,
				ATL:      70.8,
				TSB:      -15.6,
				Date:     "2026-03-15",
				Computed: true,
			}, nil
		},
	}
	h := NewFitnessHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/user-123/fitness?days=42", nil)
	req = withChiURLParams(req, map[string]string{"userID": "user-123"})
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: body=%s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp fitnessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Load == nil {
		t.Fatal("load is nil")
	}
	if resp.Load.CTL != 55.2 {
		t.Errorf("ctl = %v, want 55.2", resp.Load.CTL)
	}
	if !resp.Load.Computed {
		t.Error("computed = false, want true")
	}
}

func TestFitnessHandler_Get_NoDataReturnsNullLoad(t *testing.T) {
	h := NewFitnessHandler(&mockFitnessService{})

	req := httptest.NewRequest(http.MethodGet, "/api/users/user-123/fitness", nil)
	req = withChiURLParams(req, map[string]string{"userID": "user-123"})
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if string(resp["load"]) != "null" {
		t.Errorf("load = %s, want null", resp["load"])
	}
}

func TestFitnessHandler_Get_BadDays(t *testing.T) {
	tests := []string{"abc", "0", "-7", "1.5"}
	for _, days := range tests {
		t.Run("days="+days, func(t *testing.T) {
			h := NewFitnessHandler(&mockFitnessService{})

			req := httptest.NewRequest(http.MethodGet, "/api/users/user-123/fitness?days="+days, nil)
			req = withChiURLParams(req, map[string]string{"userID": "user-123"})
			w := httptest.NewRecorder()

			h.Get(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestFitnessHandler_Get_ServiceError(t *testing.T) {
	svc := &mockFitnessService{
		currentFn: func(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error) {
			return nil, errors.New("db connection lost")
		},
	}
	h := NewFitnessHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/users/user-123/fitness", nil)
	req = withChiURLParams(req, map[string]string{"userID": "user-123"})
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
