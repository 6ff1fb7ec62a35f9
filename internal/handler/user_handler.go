package handler

import "net/http"

// UserHandler はログイン中のユーザー自身に関するHTTPハンドラー。
type UserHandler struct{}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// Me はログイン中のユーザー情報を返す。
// GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
