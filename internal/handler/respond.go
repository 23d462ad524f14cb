// Package handler はHTTP APIのハンドラーを提供する。
// 認証は上流レイヤーの責務で、ここではパスパラメータのユーザーIDを
// そのまま信頼する内部APIとして振る舞う。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/fitsync/internal/middleware"
	"github.com/hitoshi/fitsync/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層のエラーを統一エラーレスポンスに変換する。
// 判別用エラーはerrors.Isで対応するステータスとコードに写し、
// それ以外は詳細をログに落として一般的な500を返す。
func handleServiceError(w http.ResponseWriter, provider model.Provider, err error) {
	switch {
	case errors.Is(err, model.ErrNotLinked):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewNotLinkedError(provider))
	case errors.Is(err, model.ErrCredentialsRevoked):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewRelinkRequiredError(provider))
	case errors.Is(err, model.ErrProviderNotConfigured):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderNotConfiguredError(provider))
	case errors.Is(err, model.ErrInvalidCredentials):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidCredentialsError(provider))
	case errors.Is(err, model.ErrDuplicateFitFile):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewDuplicateFitFileError())
	case errors.Is(err, model.ErrWorkoutNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewWorkoutNotFoundError(""))
	default:
		slog.Error("ハンドラーで未分類のエラーが発生しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}

// parseProvider はパスパラメータのプロバイダ名を検証して返す。
// 未対応の名前の場合はfalseを返し、400レスポンスを書き込み済みにする。
func parseProvider(w http.ResponseWriter, raw string) (model.Provider, bool) {
	if p, ok := model.ParseProvider(raw); ok {
		return p, true
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidProviderError(raw))
	return "", false
}
