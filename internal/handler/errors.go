package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/insightlab/insight/internal/middleware"
	"github.com/insightlab/insight/internal/model"
)

// maxBodyBytes はリクエストボディの上限。
const maxBodyBytes = 1 << 20

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthRequired, model.ErrCodeVerificationFailed:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidSubmission, model.ErrCodeInvalidRequest, model.ErrCodeInvalidTaskStatus:
		return http.StatusBadRequest
	case model.ErrCodeAssessmentNotFound, model.ErrCodeRoadmapTaskNotFound:
		return http.StatusNotFound
	case model.ErrCodeScoringFailed:
		return http.StatusBadGateway
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeCSRFInvalid:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON はリクエストボディをJSONとして読み取る。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		slog.Debug("failed to decode request body", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// requireUserID はコンテキストからユーザーIDを取り出す。
// セッションミドルウェアを通らずに呼ばれた場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthorized(w)
		return "", false
	}
	return userID, true
}
