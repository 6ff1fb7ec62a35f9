package auth

import (
	"errors"
	"fmt"
)

// トークン検証の失敗理由。外部にはすべて401として見せ、区別はログとテストのみで使う。
var (
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token is expired")
	ErrMalformed        = errors.New("token is malformed")
	ErrMissingSubject   = errors.New("token has no subject")
	ErrWrongTokenKind   = errors.New("token kind mismatch")
)

var (
	// ErrUnauthorized はリフレッシュフローの失敗を表す。どの段階で失敗したかは呼び出し元に見せない。
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownProvider は登録されていないIdP名が指定されたことを表す。
	ErrUnknownProvider = errors.New("unknown identity provider")
)

// ProviderError はIdPとの通信失敗を表す。リトライはしない。
type ProviderError struct {
	Provider string
	Op       string // "exchange" or "profile"
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Stage はコールバックフローの状態。
type Stage string

const (
	StageAwaitingCode     Stage = "awaiting_code"
	StageExchangingToken  Stage = "exchanging_token"
	StageFetchingProfile  Stage = "fetching_profile"
	StageResolvingAccount Stage = "resolving_account"
	StageIssuingTokens    Stage = "issuing_tokens"
	StageComplete         Stage = "complete"
)

// FlowError はコールバックフローがどの状態で失敗したかを保持する。
type FlowError struct {
	Stage Stage
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("login failed at %s: %v", e.Stage, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// IsProviderFailure はerrがIdP起因の失敗かどうかを返す。
func IsProviderFailure(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
