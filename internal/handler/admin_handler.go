package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/model"
)

// AdminServiceInterface は管理ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	ListUsers(ctx context.Context, skip, limit int) ([]*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	UpdateUser(ctx context.Context, id int64, patch model.UserPatch) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error
	ListUserAudio(ctx context.Context, userID int64, skip, limit int) ([]audio.Item, error)
}

// AdminHandler はスーパーユーザー向けのユーザー管理HTTPハンドラー。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// ListUsers はユーザー一覧を返す。
// GET /admin/users?skip=0&limit=100
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	skip, limit, apiErr := parsePage(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	users, err := h.service.ListUsers(r.Context(), skip, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser はユーザーを1件返す。
// GET /admin/users/{id}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateUser はユーザー情報を部分更新する。指定されたフィールドのみ変更する。
// PUT|PATCH /admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	var patch model.UserPatch
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("malformed JSON body"))
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// DeleteUser はユーザーと所有する音声ファイルを削除する。
// DELETE /admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserAudio は指定ユーザーの音声ファイル一覧を返す。
// GET /admin/users/{id}/audio
func (h *AdminHandler) ListUserAudio(w http.ResponseWriter, r *http.Request) {
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	skip, limit, apiErr := parsePage(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	items, err := h.service.ListUserAudio(r.Context(), id, skip, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAudioResponses(items))
}
