package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
)

// WellnessServiceInterface はコンディション記録ハンドラーが必要とするサービスインターフェース。
type WellnessServiceInterface interface {
	// Range は[fromDate, toDate]の日次記録を返す。
	Range(ctx context.Context, userID, fromDate, toDate string) ([]*model.WellnessDay, error)
	// UpsertManual は手動入力の測定値を保存し、保存後の記録を返す。
	UpsertManual(ctx context.Context, userID, date string, m *model.MeasuredWellness) (*model.WellnessDay, error)
}

// WellnessHandler は日次コンディション記録のHTTPハンドラー。
type WellnessHandler struct {
	service WellnessServiceInterface
	now     func() time.Time
}

// NewWellnessHandler はWellnessHandlerを生成する。
func NewWellnessHandler(service WellnessServiceInterface) *WellnessHandler {
	return &WellnessHandler{service: service, now: time.Now}
}

// --- リクエスト/レスポンス型 ---

// measuredWellnessRequest は手動入力の測定値リクエストボディ。
// 指定したフィールドだけが上書きされる。導出値(ctl/atl/tsb)は受け付けない。
type measuredWellnessRequest struct {
	SleepHours *float64 `json:"sleep_hours"`
	RestingHR  *float64 `json:"resting_hr"`
	HRV        *float64 `json:"hrv"`
	WeightKg   *float64 `json:"weight_kg"`
}

// wellnessDayResponse は日次コンディション記録のレスポンス。
type wellnessDayResponse struct {
	Date       string   `json:"date"`
	SleepHours *float64 `json:"sleep_hours"`
	RestingHR  *float64 `json:"resting_hr"`
	HRV        *float64 `json:"hrv"`
	WeightKg   *float64 `json:"weight_kg"`
	CTL        *float64 `json:"ctl"`
	ATL        *float64 `json:"atl"`
	TSB        *float64 `json:"tsb"`
}

// wellnessListResponse は日次記録一覧のレスポンス。
type wellnessListResponse struct {
	Days []wellnessDayResponse `json:"days"`
}

func toWellnessDayResponse(d *model.WellnessDay) wellnessDayResponse {
	return wellnessDayResponse{
		Date:       d.Date,
		SleepHours: d.SleepHours,
		RestingHR:  d.RestingHR,
		HRV:        d.HRV,
		WeightKg:   d.WeightKg,
		CTL:        d.CTL,
		ATL:        d.ATL,
		TSB:        d.TSB,
	}
}

// List は期間内の日次コンディション記録を取得する。
// GET /api/users/{userID}/wellness?from=YYYY-MM-DD&to=YYYY-MM-DD
// from/to未指定の場合は直近30日。
func (h *WellnessHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	now := h.now().UTC()
	fromDate := normalize.Date(now.AddDate(0, 0, -30))
	toDate := normalize.Date(now)

	if s := r.URL.Query().Get("from"); s != "" {
		fromDate = s
	}
	if s := r.URL.Query().Get("to"); s != "" {
		toDate = s
	}

	days, err := h.service.Range(r.Context(), userID, fromDate, toDate)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError(err.Error()))
		return
	}

	resp := wellnessListResponse{Days: make([]wellnessDayResponse, 0, len(days))}
	for _, d := range days {
		resp.Days = append(resp.Days, toWellnessDayResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Upsert は指定日の手動入力の測定値を保存する。
// PUT /api/users/{userID}/wellness/{date}
func (h *WellnessHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	date := chi.URLParam(r, "date")

	if _, ok := normalize.ParseDate(date); !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("日付はYYYY-MM-DD形式で指定してください"))
		return
	}

	var req measuredWellnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.SleepHours == nil && req.RestingHR == nil && req.HRV == nil && req.WeightKg == nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("更新する測定値を1つ以上指定してください"))
		return
	}

	day, err := h.service.UpsertManual(r.Context(), userID, date, &model.MeasuredWellness{
		SleepHours: req.SleepHours,
		RestingHR:  req.RestingHR,
		HRV:        req.HRV,
		WeightKg:   req.WeightKg,
	})
	if err != nil {
		handleServiceError(w, "", err)
		return
	}
	if day == nil {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, toWellnessDayResponse(day))
}
