// Package auth provides JWT-based authentication for the bookmark server.
// The server has a single configured account; its password is checked with
// bcrypt and successful logins receive an HS256 token.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dgzargo/BookmarkStorage/internal/logging"
	"github.com/dgzargo/BookmarkStorage/internal/metrics"
	"github.com/dgzargo/BookmarkStorage/pkg/protocol"
)

type contextKey string

const (
	userContextKey contextKey = "user"
)

const defaultIssuer = "bookmarkstorage"

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Config configures an Auth.
type Config struct {
	Secret       string
	TTL          time.Duration
	Issuer       string
	Username     string
	PasswordHash string // bcrypt
}

// Auth handles token issuance and validation.
type Auth struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	username string
	hash     []byte
}

// New creates an Auth for the configured account.
func New(cfg Config) (*Auth, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Username == "" || cfg.PasswordHash == "" {
		return nil, errors.New("account username and password hash are required")
	}
	if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
		return nil, fmt.Errorf("invalid password hash: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	return &Auth{
		secret:   []byte(cfg.Secret),
		ttl:      cfg.TTL,
		issuer:   cfg.Issuer,
		username: cfg.Username,
		hash:     []byte(cfg.PasswordHash),
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// Authenticate checks a username and password against the account.
func (a *Auth) Authenticate(username, password string) bool {
	nameOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return nameOK && passOK
}

// IssueToken signs a token for username.
func (a *Auth) IssueToken(username string) (string, time.Time, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenStr, claims.ExpiresAt.Time, nil
}

// ValidateToken parses and verifies a token.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Middleware returns HTTP middleware that validates JWT tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.ValidateToken(tokenStr)
		if err != nil {
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// HandleGetToken handles POST /account/get-token. The form carries username
// and password; the token is returned as plain text.
func (a *Auth) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		sendAuthError(w, http.StatusBadRequest, "invalid form")
		return
	}
	username := r.PostFormValue(protocol.FieldUsername)
	password := r.PostFormValue(protocol.FieldPassword)
	if username == "" || password == "" {
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if !a.Authenticate(username, password) {
		metrics.RecordAuthAttempt(false)
		logging.WithContext(r.Context()).Warn("login failed", logging.String("username", username))
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	metrics.RecordAuthAttempt(true)

	tokenStr, _, err := a.IssueToken(username)
	if err != nil {
		sendAuthError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(tokenStr))
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
