// Package auth はパスワード認証とアクセストークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/learnify/internal/model"
	"github.com/hitoshi/learnify/internal/repository"
)

// Service は登録・ログインのビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   *TokenIssuer
	cost     int
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens *TokenIssuer) *Service {
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		cost:     bcrypt.DefaultCost,
	}
}

// Register はユーザーを登録する。
// メールアドレスが登録済みの場合はEMAIL_ALREADY_EXISTSを返す。
func (s *Service) Register(ctx context.Context, name, email, password string) error {
	email = normalizeEmail(email)

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return model.NewEmailAlreadyExistsError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		// FindByEmailとCreateの間に同じメールアドレスで登録された場合
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.NewEmailAlreadyExistsError()
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("email", email),
	)
	return nil
}

// Login はメールアドレスとパスワードを検証し、アクセストークンを返す。
// 未登録のメールアドレスとパスワード不一致はどちらもINVALID_CREDENTIALSになる。
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)

	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return "", model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user.Email, user.Name)
	if err != nil {
		return "", err
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return token, nil
}

// Authenticate はアクセストークンを検証し、identity（メールアドレス）を返す。
func (s *Service) Authenticate(token string) (string, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
