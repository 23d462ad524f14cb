package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
	"github.com/hitoshi/fitsync/internal/ratelimit"
	"github.com/hitoshi/fitsync/internal/syncer"
	"github.com/hitoshi/fitsync/internal/token"
)

// LinkServiceInterface はプロバイダ連携ハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	// LinkStrava は認可コードを交換してStrava連携を作成する。
	LinkStrava(ctx context.Context, userID, code string) error
	// LinkIntervals はAPIキーを検証してintervals.icu連携を作成する。
	LinkIntervals(ctx context.Context, userID, athleteID, apiKey string) error
	// Unlink は連携と同期済みデータをまとめて削除する。
	Unlink(ctx context.Context, userID string, provider model.Provider) error
	// Status は連携状態を返す。
	Status(ctx context.Context, userID string, provider model.Provider) (*token.LinkStatus, error)
}

// SyncTriggerInterface は同期の起動インターフェース。syncer.Engineが実装する。
type SyncTriggerInterface interface {
	SyncNowOrEnqueue(ctx context.Context, userID string, provider model.Provider, trigger string) (model.SyncOutcome, error)
}

// usageReporter は呼び出しウィンドウの使用量を報告できるLimiter。
type usageReporter interface {
	Usage() (short, long int)
}

// ProviderHandler はプロバイダ連携・同期トリガーのHTTPハンドラー。
type ProviderHandler struct {
	links    LinkServiceInterface
	sync     SyncTriggerInterface
	limiters *ratelimit.Registry
}

// NewProviderHandler はProviderHandlerを生成する。
func NewProviderHandler(links LinkServiceInterface, sync SyncTriggerInterface, limiters *ratelimit.Registry) *ProviderHandler {
	return &ProviderHandler{
		links:    links,
		sync:     sync,
		limiters: limiters,
	}
}

// --- リクエスト/レスポンス型 ---

// linkRequest は連携リクエストのボディ。プロバイダによって使う
// フィールドが異なる。Stravaはcode、intervals.icuはathlete_id+api_key。
type linkRequest struct {
	Code      string `json:"code,omitempty"`
	AthleteID string `json:"athlete_id,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
}

// rateLimitUsage は呼び出し予算の使用量レスポンス。
type rateLimitUsage struct {
	ShortWindowUsed int `json:"short_window_used"`
	LongWindowUsed  int `json:"long_window_used"`
}

// statusResponse は連携状態のレスポンス。
type statusResponse struct {
	*token.LinkStatus
	RateLimit *rateLimitUsage `json:"rate_limit,omitempty"`
}

// syncResponse は同期トリガーのレスポンス。
type syncResponse struct {
	Status model.SyncOutcome `json:"status"`
}

// Link はプロバイダ連携を作成する。
// POST /api/users/{userID}/providers/{provider}/link
func (h *ProviderHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	provider, ok := parseProvider(w, chi.URLParam(r, "provider"))
	if !ok {
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	var err error
	switch provider {
	case model.ProviderStrava:
		if req.Code == "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("codeは必須です"))
			return
		}
		err = h.links.LinkStrava(r.Context(), userID, req.Code)
	case model.ProviderIntervals:
		if req.AthleteID == "" || req.APIKey == "" {
			middleware.WriteErrorResponse(w, http.StatusBadRequest,
				model.NewInvalidRequestError("athlete_idとapi_keyは必須です"))
			return
		}
		err = h.links.LinkIntervals(r.Context(), userID, req.AthleteID, req.APIKey)
	}
	if err != nil {
		handleServiceError(w, provider, err)
		return
	}

	status, err := h.links.Status(r.Context(), userID, provider)
	if err != nil {
		handleServiceError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusResponse{LinkStatus: status})
}

// Unlink はプロバイダ連携を解除する。同期済みデータも削除される。
// DELETE /api/users/{userID}/providers/{provider}/link
func (h *ProviderHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	provider, ok := parseProvider(w, chi.URLParam(r, "provider"))
	if !ok {
		return
	}

	if err := h.links.Unlink(r.Context(), userID, provider); err != nil {
		handleServiceError(w, provider, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status はプロバイダ連携の状態と呼び出し予算の使用量を返す。
// GET /api/users/{userID}/providers/{provider}/status
func (h *ProviderHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	provider, ok := parseProvider(w, chi.URLParam(r, "provider"))
	if !ok {
		return
	}

	status, err := h.links.Status(r.Context(), userID, provider)
	if err != nil {
		handleServiceError(w, provider, err)
		return
	}

	resp := statusResponse{LinkStatus: status}
	if reporter, ok := h.limiters.For(string(provider)).(usageReporter); ok {
		short, long := reporter.Usage()
		resp.RateLimit = &rateLimitUsage{ShortWindowUsed: short, LongWindowUsed: long}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sync は同期を起動する。呼び出し予算があれば即時同期、なければ
// キュー投入となり、どちらの場合も202で結果を返す。
// POST /api/users/{userID}/providers/{provider}/sync
func (h *ProviderHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	provider, ok := parseProvider(w, chi.URLParam(r, "provider"))
	if !ok {
		return
	}

	outcome, err := h.sync.SyncNowOrEnqueue(r.Context(), userID, provider, syncer.TriggerManual)
	if err != nil {
		handleServiceError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusAccepted, syncResponse{Status: outcome})
}
