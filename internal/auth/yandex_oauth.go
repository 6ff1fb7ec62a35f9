package auth

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	defaultYandexAuthURL     = "https://oauth.yandex.ru/authorize"
	defaultYandexTokenURL    = "https://oauth.yandex.ru/token"
	defaultYandexUserInfoURL = "https://login.yandex.ru/info"
)

// YandexConfig はYandex OAuthプロバイダーの設定。
type YandexConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// YandexProvider はYandex ID（OAuth 2.0）による認証を提供する。
type YandexProvider struct {
	client oauthClient
}

// NewYandexProvider はYandexProviderを生成する。
func NewYandexProvider(cfg YandexConfig) *YandexProvider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultYandexAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultYandexTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultYandexUserInfoURL
	}

	return &YandexProvider{client: oauthClient{
		name: "yandex",
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		// Yandexはユーザー情報APIで"Bearer"ではなく"OAuth"スキームを使う
		authScheme: "OAuth",
		httpClient: httpClientOrDefault(cfg.HTTPClient),
	}}
}

// yandexUserInfo はlogin.yandex.ru/infoのレスポンス。
type yandexUserInfo struct {
	ID           string `json:"id"`
	DefaultEmail string `json:"default_email"`
	RealName     string `json:"real_name"`
}

func (p *YandexProvider) Name() string { return p.client.name }

// AuthorizationURL はYandexの同意画面URLを返す。
func (p *YandexProvider) AuthorizationURL() string {
	return p.client.authorizationURL()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *YandexProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return p.client.exchangeCode(ctx, code)
}

// FetchProfile はYandexのユーザー情報を取得する。
func (p *YandexProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var info yandexUserInfo
	if err := p.client.fetchProfile(ctx, accessToken, &info); err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, &ProviderError{Provider: p.client.name, Op: "profile", Err: errors.New("empty id in user info response")}
	}
	if info.DefaultEmail == "" {
		return nil, &ProviderError{Provider: p.client.name, Op: "profile", Err: errors.New("empty default_email in user info response")}
	}

	return &Profile{
		Provider:       p.client.name,
		ProviderUserID: info.ID,
		Email:          info.DefaultEmail,
		FullName:       info.RealName,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*YandexProvider)(nil)
