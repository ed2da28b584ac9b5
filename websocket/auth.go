package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/nee-hit476/Jenji/config"
	"github.com/nee-hit476/Jenji/metrics"
)

const revocationCheckTimeout = 2 * time.Second

var errMissingToken = fmt.Errorf("missing authentication token")

// JWTValidator authenticates connection tokens and checks them against
// a Redis-backed revocation list.
type JWTValidator struct {
	cfg         *config.AuthConfig
	redisClient *redis.Client
	log         *logrus.Logger
}

// NewJWTValidator creates a validator. redisClient may be nil, in which
// case revocation is not checked.
func NewJWTValidator(cfg *config.AuthConfig, redisClient *redis.Client, log *logrus.Logger) *JWTValidator {
	return &JWTValidator{
		cfg:         cfg,
		redisClient: redisClient,
		log:         log,
	}
}

// ValidateToken parses and verifies a token string and returns its
// claims. The subject claim becomes the client ID.
func (v *JWTValidator) ValidateToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.cfg.JWTSecret), nil
	})
	if err != nil {
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		return nil, fmt.Errorf("invalid token")
	}

	if v.isTokenRevoked(claims.ID) {
		metrics.AuthFailures.WithLabelValues("revoked").Inc()
		return nil, fmt.Errorf("token has been revoked")
	}

	metrics.AuthSuccess.Inc()
	return claims, nil
}

// isTokenRevoked checks the revocation list. It fails open: a Redis
// outage does not lock every client out.
func (v *JWTValidator) isTokenRevoked(jti string) bool {
	if v.redisClient == nil || jti == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), revocationCheckTimeout)
	defer cancel()

	revoked, err := v.redisClient.SIsMember(ctx, v.cfg.RevocationListKey, jti).Result()
	if err != nil {
		v.log.Warnf("Revocation check failed for jti %s: %v", jti, err)
		return false
	}
	return revoked
}
