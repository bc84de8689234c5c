package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gamepulse/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// TokenService signs and verifies access and refresh tokens. Each kind has
// its own secret so an access token can never be presented as a refresh
// token. It never touches storage.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenService(accessSecret string, refreshSecret string, accessTTL time.Duration, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) IssueAccess(user model.User) (string, error) {
	return s.sign(user, tokenTypeAccess, s.accessTTL, s.accessSecret)
}

func (s *TokenService) IssueRefresh(user model.User) (string, error) {
	return s.sign(user, tokenTypeRefresh, s.refreshTTL, s.refreshSecret)
}

// IssuePair signs a fresh access and refresh token for user.
func (s *TokenService) IssuePair(user model.User) (model.TokenPair, error) {
	access, err := s.IssueAccess(user)
	if err != nil {
		return model.TokenPair{}, err
	}

	refresh, err := s.IssueRefresh(user)
	if err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

func (s *TokenService) VerifyAccess(token string) (*model.AuthClaims, error) {
	return s.verify(token, s.accessSecret, tokenTypeAccess, true)
}

func (s *TokenService) VerifyRefresh(token string) (*model.AuthClaims, error) {
	return s.verify(token, s.refreshSecret, tokenTypeRefresh, true)
}

// ParseRefreshIgnoringExpiry checks the signature of a refresh token but
// accepts it after expiry. Logout uses it so an expired cookie still
// revokes the session it belongs to.
func (s *TokenService) ParseRefreshIgnoringExpiry(token string) (*model.AuthClaims, error) {
	return s.verify(token, s.refreshSecret, tokenTypeRefresh, false)
}

func (s *TokenService) sign(user model.User, typ string, ttl time.Duration, secret []byte) (string, error) {
	now := s.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"typ":      typ,
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (s *TokenService) verify(token string, secret []byte, wantType string, checkExpiry bool) (*model.AuthClaims, error) {
	if token == "" {
		return nil, model.ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if !checkExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, model.ErrTokenInvalid
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, model.ErrTokenInvalid
	}

	// Tokens minted before typ existed carry no type; the secret already
	// tells the two kinds apart.
	typ, _ := claimsMap["typ"].(string)
	if typ != "" && typ != wantType {
		return nil, model.ErrTokenInvalid
	}

	claims := &model.AuthClaims{
		Subject:  claimString(claimsMap, "sub"),
		Username: claimString(claimsMap, "username"),
		Type:     typ,
		TokenID:  claimString(claimsMap, "jti"),
	}
	if exp, err := claimsMap.GetExpirationTime(); err == nil && exp != nil {
		claims.Expires = exp.Time
	}

	switch {
	case wantType == tokenTypeAccess && claims.Subject == "":
		return nil, model.ErrTokenInvalid
	case claims.Subject == "" && claims.Username == "":
		return nil, model.ErrTokenInvalid
	}

	return claims, nil
}

// claimString reads a string claim. Numeric subjects from older tokens are
// rendered as integers.
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
