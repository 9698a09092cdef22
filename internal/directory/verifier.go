package directory

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"booktalk/pkg/domain"
)

const jwksCacheTTL = 5 * time.Minute

var errUnknownKey = errors.New("unknown token key")

// identityClaims are the registered claims plus the identity attributes the
// provider embeds in access tokens.
type identityClaims struct {
	jwt.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// verifier validates RS256 access tokens against the provider's JWKS,
// refreshing the key set on unknown key IDs or cache expiry.
type verifier struct {
	issuer     string
	audience   string
	leeway     time.Duration
	jwksURL    string
	httpClient *http.Client

	mu         sync.RWMutex
	rsaKeys    map[string]*rsa.PublicKey
	keysExpire time.Time
}

func newVerifier(jwksURL, issuer, audience string, leeway time.Duration, httpClient *http.Client) (*verifier, error) {
	if strings.TrimSpace(jwksURL) == "" {
		return nil, errors.New("directory verifier requires jwksURL")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	v := &verifier{
		issuer:     issuer,
		audience:   audience,
		leeway:     leeway,
		jwksURL:    jwksURL,
		httpClient: httpClient,
	}
	if err := v.refreshKeys(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *verifier) verify(token string) (domain.Identity, error) {
	claims, err := v.parse(token)
	if err != nil {
		if !errors.Is(err, errUnknownKey) && !v.keysExpired() {
			return domain.Identity{}, err
		}
		if refreshErr := v.refreshKeys(); refreshErr != nil {
			return domain.Identity{}, refreshErr
		}
		if claims, err = v.parse(token); err != nil {
			return domain.Identity{}, err
		}
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return domain.Identity{}, errors.New("token subject missing")
	}
	role := domain.UserRole(strings.ToUpper(strings.TrimSpace(claims.Role)))
	if role != domain.RoleAdmin && role != domain.RoleCustomer {
		return domain.Identity{}, fmt.Errorf("token carries unknown role %q", claims.Role)
	}
	return domain.Identity{
		UserID: subject,
		Role:   role,
		Email:  claims.Email,
		Name:   claims.Name,
	}, nil
}

func (v *verifier) parse(token string) (identityClaims, error) {
	claims := identityClaims{}
	keys := v.copyKeys()
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := keys[strings.TrimSpace(kid)]
		if !ok {
			return nil, errUnknownKey
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return claims, err
	}
	if !parsed.Valid {
		return claims, errors.New("invalid token")
	}
	return claims, nil
}

func (v *verifier) keysExpired() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return time.Now().UTC().After(v.keysExpire)
}

func (v *verifier) copyKeys() map[string]*rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]*rsa.PublicKey, len(v.rsaKeys))
	for kid, key := range v.rsaKeys {
		out[kid] = key
	}
	return out
}

func (v *verifier) refreshKeys() error {
	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: status %d", resp.StatusCode)
	}

	var payload struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(payload.Keys))
	for _, k := range payload.Keys {
		if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
			continue
		}
		kid := strings.TrimSpace(k.Kid)
		if kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[kid] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable rsa keys")
	}

	v.mu.Lock()
	v.rsaKeys = keys
	v.keysExpire = time.Now().UTC().Add(jwksCacheTTL)
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nRaw, eRaw string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(nRaw))
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(eRaw))
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	eBig := new(big.Int).SetBytes(eBytes)
	if n.Sign() <= 0 || !eBig.IsInt64() || eBig.Int64() <= 0 {
		return nil, errors.New("invalid rsa key")
	}
	return &rsa.PublicKey{N: n, E: int(eBig.Int64())}, nil
}
