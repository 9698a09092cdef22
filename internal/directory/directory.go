// Package directory is the user-directory collaborator: it verifies access
// tokens locally against the identity provider's JWKS and resolves user IDs
// over HTTP.
package directory

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"booktalk/pkg/domain"
)

const (
	defaultIssuer   = "bookstore-auth"
	defaultAudience = "bookstore-api"
	defaultLeeway   = 30 * time.Second
)

// Config configures the directory client.
type Config struct {
	// BaseURL of the user-directory HTTP API.
	BaseURL string
	// JWKSURL of the identity provider's key set.
	JWKSURL    string
	Issuer     string
	Audience   string
	Leeway     time.Duration
	HTTPClient *http.Client
}

// Directory verifies identities and looks up users.
type Directory struct {
	verifier   *verifier
	baseURL    string
	httpClient *http.Client
}

// New constructs the directory client, fetching the JWKS eagerly so a
// misconfigured provider fails at startup rather than on first connect.
func New(cfg Config) (*Directory, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	v, err := newVerifier(cfg.JWKSURL, issuer, audience, leeway, httpClient)
	if err != nil {
		return nil, err
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("directory requires baseURL")
	}
	return &Directory{verifier: v, baseURL: baseURL, httpClient: httpClient}, nil
}

// VerifyIdentity validates the token and returns the identity it carries.
func (d *Directory) VerifyIdentity(token string) (domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Identity{}, fmt.Errorf("token is required")
	}
	return d.verifier.verify(token)
}

// UserByID resolves a user ID to an identity. Unknown IDs return ok=false.
func (d *Directory) UserByID(id string) (domain.Identity, bool, error) {
	resp, err := d.httpClient.Get(d.baseURL + "/users/" + url.PathEscape(id))
	if err != nil {
		return domain.Identity{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return domain.Identity{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Identity{}, false, fmt.Errorf("directory: user lookup: status %d", resp.StatusCode)
	}
	var ident domain.Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return domain.Identity{}, false, fmt.Errorf("directory: decode user: %w", err)
	}
	if ident.UserID == "" {
		ident.UserID = id
	}
	return ident, true, nil
}
