package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/callgrid/orthrus/utils"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// TokenService handles JWT token generation and validation
type TokenService interface {
	GenerateTokens(organizationID uint) (accessToken, refreshToken string, err error)
	ValidateToken(token string) (*TokenClaims, error)
	RefreshToken(refreshToken string) (newAccessToken, newRefreshToken string, err error)
}

// TokenClaims represents the claims in a JWT token
type TokenClaims struct {
	OrganizationID uint      `json:"organization_id"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	TokenType      string    `json:"token_type"` // "access" or "refresh"
	TokenID        string    `json:"jti"`
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	secretKey       []byte
	issuer          string
	audience        string
}

// NewTokenService creates a new token service
func NewTokenService(accessTokenTTL, refreshTokenTTL time.Duration, issuer, audience, secretKey string) (TokenService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("secret key is required")
	}
	return &TokenServiceImpl{
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
		secretKey:       []byte(secretKey),
		issuer:          issuer,
		audience:        audience,
	}, nil
}

// GenerateTokens creates an access/refresh token pair for an organization
func (t *TokenServiceImpl) GenerateTokens(organizationID uint) (string, string, error) {
	accessToken, err := t.generateToken(organizationID, "access", t.accessTokenTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := t.generateToken(organizationID, "refresh", t.refreshTokenTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

func (t *TokenServiceImpl) generateToken(organizationID uint, tokenType string, ttl time.Duration) (string, error) {
	now := utils.UTCNow()
	claims := jwt.MapClaims{
		"organization_id": organizationID,
		"token_type":      tokenType,
		"jti":             uuid.New().String(),
		"iss":             t.issuer,
		"aud":             t.audience,
		"iat":             now.Unix(),
		"exp":             now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secretKey)
}

// ValidateToken parses and validates a token, returning its claims
func (t *TokenServiceImpl) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	orgID, ok := claims["organization_id"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}
	tokenType, _ := claims["token_type"].(string)
	tokenID, _ := claims["jti"].(string)

	result := &TokenClaims{
		OrganizationID: uint(orgID),
		TokenType:      tokenType,
		TokenID:        tokenID,
	}
	if iat, ok := claims["iat"].(float64); ok {
		result.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if exp, ok := claims["exp"].(float64); ok {
		result.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return result, nil
}

// RefreshToken exchanges a valid refresh token for a new token pair
func (t *TokenServiceImpl) RefreshToken(refreshToken string) (string, string, error) {
	claims, err := t.ValidateToken(refreshToken)
	if err != nil {
		return "", "", err
	}
	if claims.TokenType != "refresh" {
		return "", "", fmt.Errorf("%w: not a refresh token", ErrTokenInvalid)
	}
	return t.GenerateTokens(claims.OrganizationID)
}
