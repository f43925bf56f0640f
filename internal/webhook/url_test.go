package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/business-ledger/internal/ledger"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://example.com/hook", true},
		{"https://example.com:8443/a/b?c=d", true},
		{"http://localhost:8080/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://0.0.0.0:9000", true},
		{"HTTPS://EXAMPLE.COM/hook", true},
		{"http://example.com/hook", false},
		{"ftp://example.com/file", false},
		{"/relative/path", false},
		{"https://", false},
		{"", false},
		{"https://example.com/" + strings.Repeat("a", MaxURLLength), false},
		{"://missing-scheme", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ledger.ErrInvalidRequest)
		})
	}
}
