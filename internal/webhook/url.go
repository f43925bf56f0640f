package webhook

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/example/business-ledger/internal/ledger"
)

const MaxURLLength = 2048

var plainHTTPHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"0.0.0.0":   true,
}

// ValidateURL accepts absolute https URLs, and http URLs that point at the
// local machine.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ledger.ErrInvalidRequest)
	}
	if len(raw) > MaxURLLength {
		return fmt.Errorf("%w: url exceeds %d characters", ledger.ErrInvalidRequest, MaxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ledger.ErrInvalidRequest, err)
	}
	if u.Host == "" || u.Hostname() == "" {
		return fmt.Errorf("%w: url must be absolute", ledger.ErrInvalidRequest)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if plainHTTPHosts[strings.ToLower(u.Hostname())] {
			return nil
		}
		return fmt.Errorf("%w: http is only allowed for localhost", ledger.ErrInvalidRequest)
	}
	return fmt.Errorf("%w: unsupported url scheme %q", ledger.ErrInvalidRequest, u.Scheme)
}
