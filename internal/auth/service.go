// Package auth はOAuthによるログインフローとセッショントークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/audiobox/internal/model"
	"github.com/hitoshi/audiobox/internal/repository"
)

// ErrMissingCode はコールバックに認可コードが含まれていないことを表す。
var ErrMissingCode = errors.New("authorization code is required")

// AccountStore はログインフローが必要とするアカウント操作。
type AccountStore interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
	FindByProviderID(ctx context.Context, provider, providerUserID string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

// Service はIdPのコールバック処理とトークンのリフレッシュを提供する。
type Service struct {
	providers map[string]IdentityProvider
	accounts  AccountStore
	tokens    *TokenCodec
}

// NewService はServiceを生成する。providersはName()をキーに登録される。
func NewService(accounts AccountStore, tokens *TokenCodec, providers ...IdentityProvider) *Service {
	s := &Service{
		providers: make(map[string]IdentityProvider, len(providers)),
		accounts:  accounts,
		tokens:    tokens,
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// Provider は名前に対応するIdPを返す。
func (s *Service) Provider(name string) (IdentityProvider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// AuthorizationURL は指定IdPの同意画面URLを返す。
func (s *Service) AuthorizationURL(provider string) (string, error) {
	p, err := s.Provider(provider)
	if err != nil {
		return "", err
	}
	return p.AuthorizationURL(), nil
}

// HandleCallback は認可コードを受け取り、コード交換・プロフィール取得・アカウント解決を経て
// トークンペアを発行する。失敗した場合は*FlowErrorで失敗した状態を返す。
func (s *Service) HandleCallback(ctx context.Context, provider, code string) (*model.TokenPair, error) {
	p, err := s.Provider(provider)
	if err != nil {
		return nil, &FlowError{Stage: StageAwaitingCode, Err: err}
	}
	if code == "" {
		return nil, &FlowError{Stage: StageAwaitingCode, Err: ErrMissingCode}
	}

	providerToken, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return nil, &FlowError{Stage: StageExchangingToken, Err: err}
	}

	profile, err := p.FetchProfile(ctx, providerToken)
	if err != nil {
		return nil, &FlowError{Stage: StageFetchingProfile, Err: err}
	}

	user, err := s.resolveAccount(ctx, profile)
	if err != nil {
		return nil, &FlowError{Stage: StageResolvingAccount, Err: err}
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, &FlowError{Stage: StageIssuingTokens, Err: err}
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return pair, nil
}

// resolveAccount はIdPユーザーIDでアカウントを検索し、存在しなければ作成する。
// 同一ユーザーの初回ログインが競合して一意制約違反になった場合は、勝った側の行を読み直して続行する。
func (s *Service) resolveAccount(ctx context.Context, profile *Profile) (*model.User, error) {
	user, err := s.accounts.FindByProviderID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if user != nil {
		return user, nil
	}

	newUser := &model.User{
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		FirstName:      profile.FullName,
		LastName:       deriveLastName(profile.FullName),
	}
	err = s.accounts.Create(ctx, newUser)
	if err == nil {
		slog.Info("new user created",
			slog.Int64("user_id", newUser.ID),
			slog.String("provider", newUser.Provider),
		)
		return newUser, nil
	}
	if !errors.Is(err, repository.ErrUniqueViolation) {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	existing, findErr := s.accounts.FindByProviderID(ctx, profile.Provider, profile.ProviderUserID)
	if findErr != nil {
		return nil, fmt.Errorf("failed to re-read account after conflict: %w", findErr)
	}
	if existing == nil {
		// IdPユーザーIDではなくメールアドレスが別アカウントと衝突している
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	slog.Info("account creation raced, using existing account",
		slog.Int64("user_id", existing.ID),
		slog.String("provider", existing.Provider),
	)
	return existing, nil
}

// Refresh はリフレッシュトークンを検証し、新しいトークンペアを発行する。
// 失敗理由はErrUnauthorizedにラップしてログ用にのみ残す。
// 失効リストは持たないため、ローテーション済みのトークンも期限内であれば受け付ける。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.TokenPair, error) {
	userID, err := s.tokens.VerifyUserID(refreshToken, RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	user, err := s.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: account %d not found", ErrUnauthorized, userID)
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return pair, nil
}

// deriveLastName は氏名を空白で分割し、2語以上なら最後の語を返す。
func deriveLastName(fullName string) string {
	parts := strings.Fields(fullName)
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return ""
}
