package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hongson-portal/internal/auth"
	"hongson-portal/internal/metrics"
	"hongson-portal/internal/models"
	"hongson-portal/internal/util"

	"go.uber.org/zap"
)

var (
	ErrInvalidSecret   = errors.New("invalid secret key")
	ErrTooManyAttempts = errors.New("too many login attempts")
)

// SecretVerifier checks a candidate admin secret.
type SecretVerifier interface {
	VerifySecret(candidate string) (bool, error)
}

// LoginLimiter throttles failed logins per client key.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	RecordFailure(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// AuthService exchanges the shared admin secret for a session token.
type AuthService struct {
	verifier SecretVerifier
	codec    *auth.TokenCodec
	limiter  LoginLimiter
	logger   *zap.Logger
}

// NewAuthService builds the login flow. limiter may be nil to disable throttling.
func NewAuthService(verifier SecretVerifier, codec *auth.TokenCodec, limiter LoginLimiter, logger *zap.Logger) *AuthService {
	return &AuthService{
		verifier: verifier,
		codec:    codec,
		limiter:  limiter,
		logger:   logger.Named("auth"),
	}
}

// Login returns a fresh admin_session value when secret matches. Limiter
// outages never block a login.
func (s *AuthService) Login(ctx context.Context, clientKey, secret string) (string, models.AdminSession, error) {
	if strings.TrimSpace(secret) == "" {
		metrics.LoginAttemptsTotal.WithLabelValues("bad_request").Inc()
		return "", models.AdminSession{}, fmt.Errorf("%w: secret key is required", ErrInvalidInput)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, clientKey)
		if err != nil {
			s.logger.Warn("Login limiter unavailable, allowing attempt",
				util.String("client", clientKey),
				util.ErrorField(err))
		} else if !allowed {
			metrics.LoginAttemptsTotal.WithLabelValues("limited").Inc()
			return "", models.AdminSession{}, ErrTooManyAttempts
		}
	}

	ok, err := s.verifier.VerifySecret(secret)
	if err != nil || !ok {
		metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("Admin login rejected", util.String("client", clientKey))
		if s.limiter != nil {
			if err := s.limiter.RecordFailure(ctx, clientKey); err != nil {
				s.logger.Warn("Failed to record login failure",
					util.String("client", clientKey),
					util.ErrorField(err))
			}
		}
		return "", models.AdminSession{}, ErrInvalidSecret
	}

	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, clientKey); err != nil {
			s.logger.Warn("Failed to reset login attempts",
				util.String("client", clientKey),
				util.ErrorField(err))
		}
	}

	value, session := s.codec.Issue()
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Admin logged in",
		util.String("client", clientKey),
		util.Time("expires_at", session.ExpiresAt(s.codec.MaxAge())))
	return value, session, nil
}

// Session reports whether value is a live session and when it expires.
func (s *AuthService) Session(value string) (bool, time.Time) {
	decision, session := s.codec.Check(value)
	if decision != auth.DecisionAllow {
		return false, time.Time{}
	}
	return true, session.ExpiresAt(s.codec.MaxAge())
}

func (s *AuthService) MaxAge() time.Duration {
	return s.codec.MaxAge()
}
