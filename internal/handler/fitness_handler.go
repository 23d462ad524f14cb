package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
)

// FitnessServiceInterface はトレーニング負荷ハンドラーが必要とするサービスインターフェース。
type FitnessServiceInterface interface {
	// Current はasOf時点の負荷指標を返す。データがない場合は(nil, nil)。
	Current(ctx context.Context, userID string, asOf time.Time, lookbackDays int) (*model.LoadSummary, error)
}

// FitnessHandler はトレーニング負荷指標のHTTPハンドラー。
type FitnessHandler struct {
	service FitnessServiceInterface
	now     func() time.Time
}

// NewFitnessHandler はFitnessHandlerを生成する。
func NewFitnessHandler(service FitnessServiceInterface) *FitnessHandler {
	return &FitnessHandler{service: service, now: time.Now}
}

// fitnessResponse はトレーニング負荷のレスポンス。
// データ不足の場合はloadがnullになる。エラーではない。
type fitnessResponse struct {
	Load *model.LoadSummary `json:"load"`
}

// Get は現在のトレーニング負荷指標(CTL/ATL/TSB)を取得する。
// GET /api/users/{userID}/fitness?days=90
func (h *FitnessHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	days := 0
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("daysは正の整数で指定してください"))
			return
		}
		days = n
	}

	load, err := h.service.Current(r.Context(), userID, h.now(), days)
	if err != nil {
		handleServiceError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, fitnessResponse{Load: load})
}
