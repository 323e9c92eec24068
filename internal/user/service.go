package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"viabill-be/internal/auth"
	"viabill-be/internal/logger"

	"go.uber.org/zap"
)

const tokenTTL = 12 * time.Hour

type Service interface {
	Register(ctx context.Context, email, password string, role Role) (*User, error)
	// Login returns a signed admin API token for the operator.
	Login(ctx context.Context, email, password string) (string, *User, error)
}

type service struct {
	repo   Repository
	secret []byte
}

func NewService(repo Repository, jwtSecret []byte) Service {
	return &service{repo: repo, secret: jwtSecret}
}

func (s *service) Register(ctx context.Context, email, password string, role Role) (*User, error) {
	log := logger.FromCtx(ctx)

	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hashed, err := HashPassword(password)
	if err != nil {
		log.Error("failed to hash password", zap.Error(err))
		return nil, err
	}

	u, err := s.repo.Create(ctx, email, hashed, role)
	if err != nil {
		return nil, err
	}

	log.Info("operator registered",
		zap.Uint("user_id", u.ID),
		zap.String("role", string(u.Role)),
	)
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, *User, error) {
	log := logger.FromCtx(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			log.Error("failed to load operator", zap.Error(err))
			return "", nil, err
		}
		log.Warn("login for unknown operator")
		return "", nil, ErrInvalidCredentials
	}

	if !CheckPasswordHash(password, u.Password) {
		log.Warn("password not match", zap.Uint("user_id", u.ID))
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(s.secret, u.ID, u.Email, string(u.Role), tokenTTL)
	if err != nil {
		log.Error("failed to generate jwt", zap.Uint("user_id", u.ID), zap.Error(err))
		return "", nil, err
	}
	return token, u, nil
}
