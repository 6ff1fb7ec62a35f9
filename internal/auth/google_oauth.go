package auth

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleConfig はGoogle OAuthプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// GoogleProvider はGoogle OAuth 2.0による認証を提供する。
type GoogleProvider struct {
	client oauthClient
}

// NewGoogleProvider はGoogleProviderを生成する。
// スコープにはemail, profileを含む。
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultGoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultGoogleTokenURL
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultGoogleUserInfoURL
	}

	return &GoogleProvider{client: oauthClient{
		name: "google",
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		authScheme:  "Bearer",
		httpClient:  httpClientOrDefault(cfg.HTTPClient),
	}}
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (p *GoogleProvider) Name() string { return p.client.name }

// AuthorizationURL はGoogleの同意画面URLを返す。
func (p *GoogleProvider) AuthorizationURL() string {
	return p.client.authorizationURL()
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	return p.client.exchangeCode(ctx, code)
}

// FetchProfile はGoogleのユーザー情報を取得する。
func (p *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var info googleUserInfo
	if err := p.client.fetchProfile(ctx, accessToken, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, &ProviderError{Provider: p.client.name, Op: "profile", Err: errors.New("empty sub in user info response")}
	}
	if info.Email == "" {
		return nil, &ProviderError{Provider: p.client.name, Op: "profile", Err: errors.New("empty email in user info response")}
	}

	return &Profile{
		Provider:       p.client.name,
		ProviderUserID: info.Sub,
		Email:          info.Email,
		FullName:       info.Name,
	}, nil
}

// compile-time interface check
var _ IdentityProvider = (*GoogleProvider)(nil)
