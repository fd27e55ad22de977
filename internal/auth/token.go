// internal/auth/token.go

// Package auth resolves opaque bearer tokens to wallet addresses. Tokens are
// ed25519-signed JWTs whose "sub" claim carries the wallet.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenService signs and verifies wallet tokens.
type TokenService struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey

	// expire is how long issued tokens live; zero means no exp claim.
	expire time.Duration
}

// New generates a fresh ed25519 key pair. Tokens signed by a previous process
// will not verify; use NewFromPath for stable keys.
func New() (*TokenService, error) {
	public, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &TokenService{
		private: private,
		public:  public,
		expire:  parseExpireEnv(),
	}, nil
}

// NewFromPath reads ed25519 private/public keys from files.
func NewFromPath(privatePath, publicPath string) (*TokenService, error) {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	return &TokenService{
		private: ed25519.PrivateKey(privateKeyData),
		public:  ed25519.PublicKey(publicKeyData),
		expire:  parseExpireEnv(),
	}, nil
}

// parseExpireEnv reads TOKEN_EXPIRE_TIME ("never", "0" or a Go duration).
func parseExpireEnv() time.Duration {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		return 0
	}
	d, err := time.ParseDuration(duration)
	if err != nil {
		return 0
	}
	return d
}

// CreateToken signs a JWT with "sub" = wallet.
func (s *TokenService) CreateToken(wallet string) (string, error) {
	claims := jwt.MapClaims{
		"sub": wallet,
	}
	if s.expire > 0 {
		claims["exp"] = time.Now().Add(s.expire).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(s.private)
}

// Verify parses and validates the token, returning the wallet address.
func (s *TokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.public, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	wallet, err := claims.GetSubject()
	if err != nil || wallet == "" {
		return "", fmt.Errorf("token missing subject")
	}
	return wallet, nil
}
