package services

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alphabatem/common/context"
	"github.com/rkr-ui/BOQMate/shared"
)

// JWTService issues and verifies the stateless bearer tokens the pipeline
// accepts. No revocation list exists; expiry is the only invalidation, which
// bounds the blast radius of a leaked token to at most the TTL.
type JWTService struct {
	context.DefaultService

	TokenTTL     time.Duration
	jwtSecretKey string

	now func() time.Time
}

type CustomClaims struct {
	jwt.RegisteredClaims
}

const (
	JWT_SVC = "jwt_svc"

	tokenIssuer   = "BOQMate"
	tokenAudience = "BOQMate-Users"

	defaultTokenTTL = 3600 * time.Second
)

func (svc JWTService) Id() string {
	return JWT_SVC
}

func (svc *JWTService) Configure(ctx *context.Context) error {
	svc.TokenTTL = envSeconds("JWT_EXPIRATION", defaultTokenTTL)

	svc.jwtSecretKey = os.Getenv("SECURITY_SECRET_KEY")
	if svc.jwtSecretKey == "" {
		return errors.New("SECURITY_SECRET_KEY is required")
	}
	if len(svc.jwtSecretKey) < 32 {
		return errors.New("SECURITY_SECRET_KEY must be at least 32 characters")
	}
	if strings.Contains(strings.ToLower(svc.jwtSecretKey), "change-me") {
		return errors.New("SECURITY_SECRET_KEY still holds the placeholder value")
	}

	if svc.now == nil {
		svc.now = time.Now
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *JWTService) Start() error {
	return nil
}

// Issue signs a token for the subject with the configured TTL.
func (svc *JWTService) Issue(userID string) (string, error) {
	now := svc.now()
	claims := &CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(svc.TokenTTL)),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(svc.jwtSecretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// Verify recomputes the signature and checks expiry, returning the subject
// user id. TokenExpired and TokenInvalid are distinct outcomes.
func (svc *JWTService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, svc.getJWTKey,
		jwt.WithTimeFunc(func() time.Time { return svc.now() }),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", shared.NewTokenExpiredError()
		}
		return "", shared.NewTokenInvalidError(err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || claims.Subject == "" {
		return "", shared.NewTokenInvalidError(errors.New("missing subject"))
	}
	return claims.Subject, nil
}

func (svc *JWTService) getJWTKey(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(svc.jwtSecretKey), nil
}

// ExtractTokenFromHeader pulls the bearer token out of an Authorization
// header value.
func (svc *JWTService) ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", errors.New("invalid authorization header format")
	}
	return authHeader[7:], nil
}
