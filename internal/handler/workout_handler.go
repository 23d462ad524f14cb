package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/normalize"
	"github.com/hitoshi/fitsync/internal/workout"
)

const (
	// maxFitFileBytes はFITファイルアップロードの上限サイズ。
	maxFitFileBytes = 20 << 20
	// defaultListDays は期間未指定時の一覧の遡り日数。
	defaultListDays = 90
)

// WorkoutServiceInterface はワークアウトハンドラーが必要とするサービスインターフェース。
type WorkoutServiceInterface interface {
	// CreateManual は手動入力ワークアウトを登録する。
	CreateManual(ctx context.Context, userID string, input *workout.ManualInput) (*model.Workout, error)
	// IngestFit はFITファイルを取り込む。
	IngestFit(ctx context.Context, userID string, data []byte, opts workout.FitOptions) (*model.Workout, error)
	// List は期間内のワークアウトを返す。
	List(ctx context.Context, userID string, from, to time.Time) ([]*model.Workout, error)
	// ListDaily は期間内のワークアウトをUTC日ごとの代表1行に絞って返す。
	ListDaily(ctx context.Context, userID string, from, to time.Time) ([]*model.Workout, error)
	// Delete はワークアウトを削除する。
	Delete(ctx context.Context, userID, workoutID string) error
}

// WorkoutHandler はワークアウト管理のHTTPハンドラー。
type WorkoutHandler struct {
	service WorkoutServiceInterface
	now     func() time.Time
}

// NewWorkoutHandler はWorkoutHandlerを生成する。
func NewWorkoutHandler(service WorkoutServiceInterface) *WorkoutHandler {
	return &WorkoutHandler{service: service, now: time.Now}
}

// --- リクエスト/レスポンス型 ---

// manualWorkoutRequest は手動入力ワークアウトのリクエストボディ。
// durationとdistanceは秒数・"H:MM:SS"・数値文字列のいずれでも受け付ける。
type manualWorkoutRequest struct {
	StartDate string   `json:"start_date"`
	Name      string   `json:"name"`
	Sport     string   `json:"sport"`
	Notes     string   `json:"notes"`
	Duration  any      `json:"duration"`
	Distance  any      `json:"distance"`
	TSS       *float64 `json:"tss"`
}

// workoutResponse はワークアウトのレスポンス。
type workoutResponse struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id,omitempty"`
	StartDate   time.Time `json:"start_date"`
	Name        string    `json:"name,omitempty"`
	Sport       string    `json:"sport,omitempty"`
	DurationSec *int64    `json:"duration_sec"`
	DistanceM   *float64  `json:"distance_m"`
	TSS         *float64  `json:"tss"`
	Notes       string    `json:"notes,omitempty"`
	Source      string    `json:"source"`
	HasSeries   bool      `json:"has_series"`
}

// workoutListResponse はワークアウト一覧のレスポンス。
type workoutListResponse struct {
	Workouts []workoutResponse `json:"workouts"`
}

func toWorkoutResponse(w *model.Workout) workoutResponse {
	return workoutResponse{
		ID:          w.ID,
		ExternalID:  w.ExternalID,
		StartDate:   w.StartDate,
		Name:        w.Name,
		Sport:       w.Sport,
		DurationSec: w.DurationSec,
		DistanceM:   w.DistanceM,
		TSS:         w.TSS,
		Notes:       w.Notes,
		Source:      string(w.Source),
		HasSeries:   w.Raw.HasSeries(),
	}
}

// List は期間内のワークアウト一覧を取得する。
// GET /api/users/{userID}/workouts?from=YYYY-MM-DD&to=YYYY-MM-DD&daily=true
// from/to未指定の場合は直近90日。toの日付は期間に含まれる。
func (h *WorkoutHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	now := h.now().UTC()
	from := now.AddDate(0, 0, -defaultListDays)
	to := now.AddDate(0, 0, 1)

	if s := r.URL.Query().Get("from"); s != "" {
		t, ok := normalize.ParseDate(s)
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("fromはYYYY-MM-DD形式で指定してください"))
			return
		}
		from = t
	}
	if s := r.URL.Query().Get("to"); s != "" {
		t, ok := normalize.ParseDate(s)
		if !ok {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("toはYYYY-MM-DD形式で指定してください"))
			return
		}
		// toの日付自体を含む半開区間に変換する
		to = t.AddDate(0, 0, 1)
	}

	if !to.After(from) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("fromはtoより前の日付を指定してください"))
		return
	}

	list := h.service.List
	if r.URL.Query().Get("daily") == "true" {
		list = h.service.ListDaily
	}

	rows, err := list(r.Context(), userID, from, to)
	if err != nil {
		handleServiceError(w, "", err)
		return
	}

	resp := workoutListResponse{Workouts: make([]workoutResponse, 0, len(rows))}
	for _, row := range rows {
		resp.Workouts = append(resp.Workouts, toWorkoutResponse(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateManual は手動入力ワークアウトを登録する。
// POST /api/users/{userID}/workouts
func (h *WorkoutHandler) CreateManual(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req manualWorkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	start, ok := normalize.ParseInstant(req.StartDate)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("start_dateを解釈できません"))
		return
	}

	stored, err := h.service.CreateManual(r.Context(), userID, &workout.ManualInput{
		StartDate: start,
		Name:      req.Name,
		Sport:     req.Sport,
		Notes:     req.Notes,
		Duration:  req.Duration,
		Distance:  req.Distance,
		TSS:       req.TSS,
	})
	if err != nil {
		handleServiceError(w, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkoutResponse(stored))
}

// IngestFit はFITファイルを取り込む。ボディはファイルのバイト列そのもの。
// POST /api/users/{userID}/workouts/fit?ftp=250
func (h *WorkoutHandler) IngestFit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var opts workout.FitOptions
	if s := r.URL.Query().Get("ftp"); s != "" {
		ftp, err := strconv.ParseFloat(s, 64)
		if err != nil || ftp <= 0 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("ftpは正の数値で指定してください"))
			return
		}
		opts.FTP = ftp
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFitFileBytes))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("ファイルの読み取りに失敗しました"))
		return
	}
	if len(data) == 0 {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("ファイルが空です"))
		return
	}

	stored, err := h.service.IngestFit(r.Context(), userID, data, opts)
	if err != nil {
		handleServiceError(w, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkoutResponse(stored))
}

// Delete はワークアウトを削除する。
// DELETE /api/users/{userID}/workouts/{workoutID}
func (h *WorkoutHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	workoutID := chi.URLParam(r, "workoutID")

	if err := h.service.Delete(r.Context(), userID, workoutID); err != nil {
		handleServiceError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
