package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, audio, admin, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeProviderError   = "PROVIDER_ERROR"
	ErrCodeUnknownProvider = "UNKNOWN_PROVIDER"
	ErrCodeMissingCode     = "MISSING_CODE"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeDuplicateEmail  = "DUPLICATE_EMAIL"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeInvalidAudio    = "INVALID_AUDIO"
	ErrCodeAudioNotFound   = "AUDIO_NOT_FOUND"
	ErrCodeFileTooLarge    = "FILE_TOO_LARGE"
	ErrCodeStorageFailed   = "STORAGE_FAILED"
)

// NewUnauthorizedError は認証失敗エラーを生成する。
// どの検証段階で失敗したかは含めない。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Could not validate credentials",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "The user doesn't have enough privileges",
		Category: "auth",
		Action:   "管理者アカウントでログインしてください。",
	}
}

// NewProviderError は外部IdPとの通信失敗エラーを生成する。
// IdPのレスポンス本文は含めない。
func NewProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderError,
		Message:  fmt.Sprintf("Failed to authenticate with %s", provider),
		Category: "auth",
		Action:   "もう一度ログインをやり直してください。",
	}
}

// NewUnknownProviderError は未対応のIdPが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("Unknown identity provider: %s", provider),
		Category: "auth",
		Action:   "対応しているプロバイダーを指定してください。",
	}
}

// NewMissingCodeError は認可コードが指定されていない場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "Missing authorization code",
		Category: "validation",
		Action:   "ログインをやり直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "admin",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレスが他のユーザーと重複する場合のエラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "Email is already used by another user",
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewInvalidInputError は入力値の検証エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Invalid input: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidAudioError は音声以外のファイルがアップロードされた場合のエラーを生成する。
func NewInvalidAudioError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAudio,
		Message:  "File must be an audio file",
		Category: "audio",
		Action:   "audio/* 形式のファイルを指定してください。",
	}
}

// NewAudioNotFoundError は音声ファイルが見つからない場合のエラーを生成する。
func NewAudioNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAudioNotFound,
		Message:  "Audio file not found",
		Category: "audio",
		Action:   "ファイルIDを確認してください。",
	}
}

// NewFileTooLargeError はアップロードサイズ上限を超えた場合のエラーを生成する。
func NewFileTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("File exceeds the maximum size of %d bytes", maxBytes),
		Category: "audio",
		Action:   "ファイルサイズを小さくしてください。",
	}
}

// NewStorageFailedError はオブジェクトストレージへの保存失敗エラーを生成する。
func NewStorageFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageFailed,
		Message:  "Failed to store the file",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
