package filter

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyFilter gates a route behind proxy-level API keys. Keys are held as
// bcrypt hashes so a leaked config does not leak the keys themselves. The
// client presents its key in the X-AIProxy-Api-Key header; the provider
// credential in Authorization stays untouched.
type APIKeyFilter struct {
	hashes []string
}

// KeyHeader is where clients present their proxy API key.
const KeyHeader = "X-AIProxy-Api-Key"

// NewAPIKeyFilter creates a filter accepting any key matching one of the
// bcrypt hashes.
func NewAPIKeyFilter(hashes []string) *APIKeyFilter {
	return &APIKeyFilter{hashes: hashes}
}

// HashKey derives the bcrypt hash to store for a plaintext key.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (f *APIKeyFilter) Name() string { return "api-key" }

// Filter rejects requests whose key matches no configured hash.
func (f *APIKeyFilter) Filter(ctx context.Context, requestID string, body map[string]any, headers http.Header) (Decision, error) {
	key := strings.TrimSpace(headers.Get(KeyHeader))
	if key != "" {
		for _, h := range f.hashes {
			if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
				return Continue(), nil
			}
		}
	}
	return ShortCircuit("invalid api key"), nil
}
