package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedPrefixes はIdPのエンドポイントとして許可しないアドレス範囲。
// クラウドメタデータ（169.254.169.254）はリンクローカルに含まれる。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// NewEgressClient はIdPとの通信用に、HTTPSの公開アドレスにしか接続しないHTTPクライアントを生成する。
// safeurlが名前解決後のIPを接続時に検証するため、DNSリバインディングも防ぐ。
func NewEgressClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return safeurl.Client(config).Client
}

// ValidateEndpoint は設定されたIdPエンドポイントURLを名前解決せずに検証する。
// httpsの公開ホストのみを許可する。
func ValidateEndpoint(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", rawURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("endpoint %q must use https", rawURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("endpoint %q has no host", rawURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("endpoint %q points at localhost", rawURL)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// ホスト名は接続時にNewEgressClientが検証する
		return nil
	}
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("endpoint %q points at a non-public address", rawURL)
		}
	}
	return nil
}
