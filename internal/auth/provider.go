package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// Profile はIdPから取得したユーザー情報を表す。
type Profile struct {
	Provider       string
	ProviderUserID string
	Email          string
	FullName       string
}

// IdentityProvider はOAuth認可コードフローを提供するIdPのインターフェース。
// ローカルの状態は持たない。
type IdentityProvider interface {
	// Name はIdPの識別名を返す（ルートの{provider}と一致する）。
	Name() string
	// AuthorizationURL は同意画面のURLを返す。I/Oは発生しない。
	AuthorizationURL() string
	// ExchangeCode は認可コードをIdPのアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchProfile はIdPのアクセストークンでプロフィールを取得する。
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// maxProfileBodySize はプロフィールレスポンスの読み取り上限。
const maxProfileBodySize = 1 << 20

// oauthClient はx/oauth2によるコード交換とプロフィール取得の共通処理。
type oauthClient struct {
	name        string
	config      oauth2.Config
	userInfoURL string
	authScheme  string
	httpClient  *http.Client
}

func (c *oauthClient) authorizationURL() string {
	return c.config.AuthCodeURL("")
}

func (c *oauthClient) exchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return "", &ProviderError{Provider: c.name, Op: "exchange", Err: err}
	}
	return tok.AccessToken, nil
}

// fetchProfile はユーザー情報エンドポイントからJSONを取得してdestにデコードする。
func (c *oauthClient) fetchProfile(ctx context.Context, accessToken string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL, nil)
	if err != nil {
		return &ProviderError{Provider: c.name, Op: "profile", Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", c.authScheme+" "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: c.name, Op: "profile", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodySize))
	if err != nil {
		return &ProviderError{Provider: c.name, Op: "profile", Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: c.name, Op: "profile", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return &ProviderError{Provider: c.name, Op: "profile", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

func httpClientOrDefault(client *http.Client) *http.Client {
	if client == nil {
		return http.DefaultClient
	}
	return client
}
