package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/audiobox/internal/model"
)

// TokenKind はトークンの種別。kindクレームとして署名対象に含める。
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenConfig はトークン発行の設定。
type TokenConfig struct {
	SecretKey  string
	Algorithm  string // HS256, HS384, HS512
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// sessionClaims はアクセス・リフレッシュトークン共通のクレーム。
type sessionClaims struct {
	Kind TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenCodec は署名付きの期限付きセッショントークンを発行・検証する。
// 状態を持たないため、複数のゴルーチンから同時に使用できる。
type TokenCodec struct {
	key        []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// CodecOption はTokenCodecのオプション。
type CodecOption func(*TokenCodec)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec はTokenCodecを生成する。HMAC以外のアルゴリズムはエラーとする。
func NewTokenCodec(cfg TokenConfig, opts ...CodecOption) (*TokenCodec, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = jwt.SigningMethodHS256.Alg()
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm: %s", cfg.Algorithm)
	}

	c := &TokenCodec{
		key:        []byte(cfg.SecretKey),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue はsubjectとkindを持ち、lifetime後に失効するトークンを発行する。
func (c *TokenCodec) Issue(subject string, kind TokenKind, lifetime time.Duration) (string, error) {
	now := c.now()
	claims := sessionClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt(now, lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// expiresAt はnow+lifetimeを秒単位に切り上げる。
// expクレームは秒精度のため、切り捨てるとlifetimeより早く失効する。
func expiresAt(now time.Time, lifetime time.Duration) time.Time {
	exp := now.Add(lifetime)
	if t := exp.Truncate(time.Second); t.Before(exp) {
		return t.Add(time.Second)
	}
	return exp
}

// Verify は署名・有効期限・種別を検証し、subjectを返す。
func (c *TokenCodec) Verify(tokenString string, kind TokenKind) (string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", fmt.Errorf("%w: %v", ErrExpired, err)
		default:
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}

	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	if claims.Kind != kind {
		return "", fmt.Errorf("%w: want %s, got %q", ErrWrongTokenKind, kind, claims.Kind)
	}
	return claims.Subject, nil
}

// IssuePair はユーザーIDに対してアクセストークンとリフレッシュトークンを発行する。
func (c *TokenCodec) IssuePair(userID int64) (*model.TokenPair, error) {
	subject := strconv.FormatInt(userID, 10)

	access, err := c.Issue(subject, AccessToken, c.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := c.Issue(subject, RefreshToken, c.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return &model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	}, nil
}

// VerifyUserID はトークンを検証し、subjectをユーザーIDとして返す。
func (c *TokenCodec) VerifyUserID(tokenString string, kind TokenKind) (int64, error) {
	subject, err := c.Verify(tokenString, kind)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject is not a user ID", ErrMalformed)
	}
	return id, nil
}
