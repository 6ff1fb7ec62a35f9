// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultYandexAuthURL     = "https://oauth.yandex.ru/authorize"
	defaultYandexTokenURL    = "https://oauth.yandex.ru/token"
	defaultYandexUserInfoURL = "https://login.yandex.ru/info"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Yandex OAuth
	YandexClientID     string
	YandexClientSecret string
	YandexRedirectURL  string
	YandexAuthURL      string
	YandexTokenURL     string
	YandexUserInfoURL  string

	// Google OAuth（任意。ClientID/Secretが両方設定された場合のみ有効）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	ProviderTimeout time.Duration
	// IdPへの通信をhttpsの公開アドレスに限定する（ローカルのモックIdPを使う場合のみ無効化する）
	ProviderEgressGuard bool

	// JWT
	SecretKey       string
	JWTAlgorithm    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Object storage (MinIO / S3互換)
	MinioEndpoint  string
	MinioUseSSL    bool
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	PresignExpiry  time.Duration

	// Admin
	AdminEmail string

	// Upload
	UploadMaxBytes int64

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitUpload  int

	// Worker
	PurgeInterval  time.Duration
	PurgeBatchSize int

	// Server
	ServerPort   string
	ServerDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envが存在する場合は先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.YandexClientID = require("YANDEX_CLIENT_ID")
	cfg.YandexClientSecret = require("YANDEX_CLIENT_SECRET")
	cfg.SecretKey = require("SECRET_KEY")
	minioHost := require("MINIO_HOST")
	cfg.MinioAccessKey = require("MINIO_ROOT_USER")
	cfg.MinioSecretKey = require("MINIO_ROOT_PASSWORD")
	cfg.MinioBucket = require("MINIO_BUCKET_NAME")

	// DATABASE_URLが未設定の場合はPOSTGRES_*から組み立てる
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		server := require("POSTGRES_SERVER")
		user := require("POSTGRES_USER")
		password := require("POSTGRES_PASSWORD")
		db := require("POSTGRES_DB")
		port := require("POSTGRES_PORT")
		cfg.DatabaseURL = buildDatabaseURL(server, port, user, password, db)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	endpoint, useSSL, err := parseMinioHost(minioHost)
	if err != nil {
		return nil, err
	}
	cfg.MinioEndpoint = endpoint
	cfg.MinioUseSSL = useSSL
	cfg.MinioRegion = getEnvString("MINIO_REGION", "us-east-1")
	cfg.PresignExpiry = getEnvPositiveDuration("PRESIGN_EXPIRY", time.Hour)

	cfg.ServerDomain = strings.TrimRight(getEnvString("SERVER_DOMAIN", "http://localhost:8000"), "/")
	cfg.YandexRedirectURL = cfg.ServerDomain + "/auth/yandex/callback"
	cfg.YandexAuthURL = getEnvString("AUTHORIZE_URL", defaultYandexAuthURL)
	cfg.YandexTokenURL = getEnvString("TOKEN_URL", defaultYandexTokenURL)
	cfg.YandexUserInfoURL = getEnvString("USER_INFO_URL", defaultYandexUserInfoURL)

	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = cfg.ServerDomain + "/auth/google/callback"
	cfg.ProviderTimeout = getEnvPositiveDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.ProviderEgressGuard = getEnvBool("PROVIDER_EGRESS_GUARD", true)

	cfg.JWTAlgorithm = getEnvString("ALGORITHM", "HS256")
	cfg.AccessTokenTTL = time.Duration(getEnvPositiveInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute
	cfg.RefreshTokenTTL = time.Duration(getEnvPositiveInt("REFRESH_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour

	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")
	cfg.UploadMaxBytes = getEnvPositiveInt64("UPLOAD_MAX_BYTES", 50<<20)
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvPositiveInt("RATE_LIMIT_UPLOAD", 20)
	cfg.PurgeInterval = getEnvPositiveDuration("PURGE_INTERVAL", 10*time.Minute)
	cfg.PurgeBatchSize = getEnvPositiveInt("PURGE_BATCH_SIZE", 100)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8000")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// GoogleEnabled はGoogle OAuthが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// buildDatabaseURL はPOSTGRES_*の各値からPostgreSQLの接続URLを組み立てる。
func buildDatabaseURL(server, port, user, password, db string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     server + ":" + port,
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// parseMinioHost はMINIO_HOSTをエンドポイント（host:port）とTLS有無に分解する。
// スキームなしの値はhttpとして扱う。
func parseMinioHost(host string) (string, bool, error) {
	if !strings.Contains(host, "://") {
		return host, false, nil
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", false, fmt.Errorf("invalid MINIO_HOST %q: %w", host, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid MINIO_HOST %q: missing host", host)
	}
	return u.Host, u.Scheme == "https", nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt はgetEnvIntと同様だが、0以下の値はデフォルト値に置き換える。
func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvPositiveInt64(key string, defaultVal int64) int64 {
	if i := getEnvInt64(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	if d := getEnvDuration(key, defaultVal); d > 0 {
		return d
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
