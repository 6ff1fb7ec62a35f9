package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/middleware"
	"github.com/hitoshi/audiobox/internal/model"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 100
)

// userResponse はユーザーのAPIレスポンス。
type userResponse struct {
	ID             int64     `json:"id"`
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	Email          string    `json:"email"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// audioResponse は音声ファイルのAPIレスポンス。
type audioResponse struct {
	ID               int64     `json:"id"`
	UserID           int64     `json:"user_id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"storage_path"`
	ContentType      string    `json:"content_type"`
	SizeBytes        int64     `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
	URL              string    `json:"url,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Provider:       u.Provider,
		ProviderUserID: u.ProviderUserID,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		CreatedAt:      u.CreatedAt,
	}
}

func toAudioResponse(f *model.AudioFile, url string) audioResponse {
	return audioResponse{
		ID:               f.ID,
		UserID:           f.UserID,
		Filename:         f.Filename,
		OriginalFilename: f.OriginalFilename,
		StoragePath:      f.StoragePath,
		ContentType:      f.ContentType,
		SizeBytes:        f.SizeBytes,
		CreatedAt:        f.CreatedAt,
		URL:              url,
	}
}

func toAudioResponses(items []audio.Item) []audioResponse {
	resp := make([]audioResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toAudioResponse(item.File, item.URL))
	}
	return resp
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == model.ErrCodeUnauthorized {
			middleware.WriteUnauthorized(w)
			return
		}
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeProviderError, model.ErrCodeMissingCode,
		model.ErrCodeInvalidInput, model.ErrCodeInvalidAudio:
		return http.StatusBadRequest
	case model.ErrCodeUnknownProvider, model.ErrCodeUserNotFound, model.ErrCodeAudioNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateEmail:
		return http.StatusConflict
	case model.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeStorageFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parsePage はクエリパラメータのskip/limitを解釈する。
// limitは未指定なら100、上限100に丸める。
func parsePage(r *http.Request) (skip, limit int, apiErr *model.APIError) {
	q := r.URL.Query()
	skip, limit = 0, defaultPageLimit

	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, model.NewInvalidInputError("skip must be a non-negative integer")
		}
		skip = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, model.NewInvalidInputError("limit must be a positive integer")
		}
		limit = min(n, maxPageLimit)
	}
	return skip, limit, nil
}

// parseIDParam はURLパスパラメータの数値IDを解釈する。
func parseIDParam(r *http.Request, name string) (int64, *model.APIError) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, model.NewInvalidInputError(name + " must be a positive integer")
	}
	return id, nil
}

// currentUser は認証ミドルウェアが注入したユーザーを返す。存在しない場合は401を書き込む。
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return nil, false
	}
	return user, true
}
