package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/hitoshi/audiobox/internal/audio"
	"github.com/hitoshi/audiobox/internal/model"
)

// multipartMemory はマルチパートの解析でメモリに保持する上限。超えた分は一時ファイルに書き出される。
const multipartMemory = 8 << 20

// multipartOverhead はファイル本体以外のマルチパートのヘッダー・フィールド分の余裕。
const multipartOverhead = 1 << 20

// AudioServiceInterface は音声ハンドラーが必要とするサービスインターフェース。
type AudioServiceInterface interface {
	Upload(ctx context.Context, userID int64, in audio.UploadInput) (*model.AudioFile, error)
	List(ctx context.Context, userID int64, offset, limit int) ([]audio.Item, error)
	Get(ctx context.Context, userID, id int64) (*audio.Item, error)
	Delete(ctx context.Context, userID, id int64) error
}

// AudioHandler は音声ファイルのHTTPハンドラー。
type AudioHandler struct {
	service  AudioServiceInterface
	maxBytes int64
}

// NewAudioHandler はAudioHandlerを生成する。maxBytesはアップロードできるファイルの最大サイズ。
func NewAudioHandler(service AudioServiceInterface, maxBytes int64) *AudioHandler {
	return &AudioHandler{
		service:  service,
		maxBytes: maxBytes,
	}
}

// Upload はマルチパートのfileフィールドで受け取った音声ファイルを保存する。
// 任意のfilenameフィールドで表示名を指定できる。
// POST /audio/upload
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewFileTooLargeError(h.maxBytes))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("multipart form with a file field is required"))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("failed to remove multipart temp files", slog.String("error", err.Error()))
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("file is required"))
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewFileTooLargeError(h.maxBytes))
		return
	}

	created, err := h.service.Upload(r.Context(), user.ID, audio.UploadInput{
		Label:            r.FormValue("filename"),
		OriginalFilename: header.Filename,
		ContentType:      contentTypeOf(header),
		Size:             header.Size,
		Body:             file,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAudioResponse(created, ""))
}

// List はログイン中のユーザーの音声ファイルを新しい順に返す。
// GET /audio?skip=0&limit=100
func (h *AudioHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	skip, limit, apiErr := parsePage(r)
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	items, err := h.service.List(r.Context(), user.ID, skip, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAudioResponses(items))
}

// Get は音声ファイルを1件返す。他のユーザーのファイルは404になる。
// GET /audio/{id}
func (h *AudioHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	item, err := h.service.Get(r.Context(), user.ID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAudioResponse(item.File, item.URL))
}

// Delete は音声ファイルを削除する。
// DELETE /audio/{id}
func (h *AudioHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, apiErr := parseIDParam(r, "id")
	if apiErr != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.Delete(r.Context(), user.ID, id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func contentTypeOf(header *multipart.FileHeader) string {
	return header.Header.Get("Content-Type")
}
