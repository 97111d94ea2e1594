package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
)

// TokenSource supplies bearer tokens. Invalidate is called after the server
// rejected the current token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (StaticToken) Invalidate() {}

// AccountTokens fetches a token with account credentials on first use and
// caches it until it expires or the server rejects it.
type AccountTokens struct {
	client   *Client
	username string
	password string
	onToken  func(token string)

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAccountTokens returns a token source that logs in through c. onToken,
// if set, is called with every freshly fetched token.
func NewAccountTokens(c *Client, username, password string, onToken func(string)) *AccountTokens {
	return &AccountTokens{client: c, username: username, password: password, onToken: onToken}
}

// Token returns the cached token, logging in when there is none.
func (a *AccountTokens) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && (a.expires.IsZero() || time.Now().Add(time.Minute).Before(a.expires)) {
		return a.token, nil
	}
	token, err := a.client.Login(ctx, a.username, a.password)
	if err != nil {
		return "", err
	}
	a.token = token
	a.expires = TokenExpiry(token)
	if a.onToken != nil {
		a.onToken(token)
	}
	return token, nil
}

// Invalidate drops the cached token.
func (a *AccountTokens) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = ""
}

// Login exchanges account credentials for a token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{
		protocol.FieldUsername: {username},
		protocol.FieldPassword: {password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(protocol.EndpointGetToken, nil), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("login response carries no token")
	}
	return token, nil
}

// TokenExpiry reads the expiry claim of a JWT without verifying it. It
// returns the zero time when the token has none or cannot be parsed.
func TokenExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// TokenFile holds a saved authentication token.
type TokenFile struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Server    string    `json:"server"`
	Username  string    `json:"username"`
}

// IsExpired reports whether the token expires within margin. Tokens without
// an expiry never expire.
func (t *TokenFile) IsExpired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// TokenFilePath returns the default path for the token file.
func TokenFilePath() string {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, _ := os.UserHomeDir()
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "BookmarkStorage", "token.json")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bookmarkstorage", "token.json")
}

// SaveToken writes tf to path.
func SaveToken(path string, tf *TokenFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadToken reads a token file from path.
func LoadToken(path string) (*TokenFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf TokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// DeleteToken removes the token file at path.
func DeleteToken(path string) error {
	return os.Remove(path)
}
