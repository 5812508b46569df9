package google

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"

	appLog "dockycal/internal/log"
)

// ProviderID is the identity provider entry a session must carry for the
// calendar to be reachable.
const ProviderID = "google.com"

// TokenCacheKey is the cache slot holding the last known access token.
const TokenCacheKey = "docky_google_access_token"

// DefaultTokenURL is Google's OAuth2 token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

// TokenProvider hands out access tokens for the calendar API.
type TokenProvider interface {
	// Token returns the current token, deriving one if none is held.
	Token(ctx context.Context) (string, bool)
	// Refresh obtains a new token, replacing the current one.
	Refresh(ctx context.Context) (string, bool)
}

// Invalidator is implemented by providers that can drop their token after
// an unrecoverable auth failure.
type Invalidator interface {
	Invalidate()
}

// Identity is the signed-in user as far as the calendar cares.
type Identity struct {
	Email     string
	Providers []string
}

func (i Identity) Linked() bool {
	return slices.Contains(i.Providers, ProviderID)
}

// TokenCache is a small YAML key/value file.
type TokenCache struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

func NewTokenCache(fsys afero.Fs, path string) *TokenCache {
	return &TokenCache{fs: fsys, path: path}
}

func (c *TokenCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	vals, err := c.read()
	if err != nil {
		appLog.Error("google: token cache unreadable", err, "path", c.path)
		return "", false
	}
	v, ok := vals[key]
	return v, ok && v != ""
}

func (c *TokenCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vals, err := c.read()
	if err != nil {
		vals = map[string]string{}
	}
	vals[key] = value
	return c.write(vals)
}

func (c *TokenCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vals, err := c.read()
	if err != nil {
		return err
	}
	if _, ok := vals[key]; !ok {
		return nil
	}
	delete(vals, key)
	return c.write(vals)
}

func (c *TokenCache) read() (map[string]string, error) {
	data, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	vals := map[string]string{}
	if err := yaml.Unmarshal(data, &vals); err != nil {
		return nil, err
	}
	if vals == nil {
		vals = map[string]string{}
	}
	return vals, nil
}

func (c *TokenCache) write(vals map[string]string) error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(vals)
	if err != nil {
		return err
	}
	return afero.WriteFile(c.fs, c.path, data, 0o600)
}

// OAuthConfig holds what is needed to mint access tokens from a refresh
// token.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// TokenURL defaults to DefaultTokenURL.
	TokenURL string
}

// SessionTokens is the TokenProvider for a linked identity. Tokens come
// from memory, then the cache, then an OAuth refresh.
type SessionTokens struct {
	mu      sync.Mutex
	current string

	oauth        *oauth2.Config
	refreshToken string
	cache        *TokenCache
}

// NewSessionTokens returns ErrNotLinked when the identity has no Google
// provider entry. cache may be nil.
func NewSessionTokens(id Identity, cfg OAuthConfig, cache *TokenCache) (*SessionTokens, error) {
	if !id.Linked() {
		return nil, ErrNotLinked
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &SessionTokens{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
			Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		},
		refreshToken: cfg.RefreshToken,
		cache:        cache,
	}, nil
}

func (s *SessionTokens) Token(ctx context.Context) (string, bool) {
	s.mu.Lock()
	if s.current != "" {
		tok := s.current
		s.mu.Unlock()
		return tok, true
	}
	s.mu.Unlock()

	if s.cache != nil {
		if tok, ok := s.cache.Get(TokenCacheKey); ok {
			s.mu.Lock()
			s.current = tok
			s.mu.Unlock()
			return tok, true
		}
	}
	return s.Refresh(ctx)
}

func (s *SessionTokens) Refresh(ctx context.Context) (string, bool) {
	if s.refreshToken == "" {
		return "", false
	}

	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		appLog.Error("google: token refresh failed", err)
		return "", false
	}

	s.mu.Lock()
	s.current = tok.AccessToken
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(TokenCacheKey, tok.AccessToken); err != nil {
			appLog.Error("google: token cache write failed", err)
		}
	}
	appLog.Debug("google: access token refreshed")
	return tok.AccessToken, true
}

func (s *SessionTokens) Invalidate() {
	s.mu.Lock()
	s.current = ""
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Delete(TokenCacheKey); err != nil {
			appLog.Error("google: token cache clear failed", err)
		}
	}
}
