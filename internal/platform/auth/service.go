package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
)

type RegisterInput struct {
	ID          string
	Email       string
	DisplayName string
	IDNumber    *string
	Password    string
	Role        string
}

type Service struct {
	store  AccountStore
	secret []byte
}

// secret は config 由来（platform/db.Config.Auth.JWTSecret）
func NewService(db *sql.DB, secret []byte) *Service {
	return &Service{store: NewStore(db), secret: secret}
}

func (s *Service) Secret() []byte { return s.secret }

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if acct == nil {
		return "", errors.New("authentication failed")
	}
	if acct.IsDisabled {
		return "", errors.New("account disabled")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", errors.New("authentication failed")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   acct.ID,
		"role":  acct.Role,
		"name":  acct.DisplayName,
		"email": acct.Email,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	exists, err := s.store.GetByID(ctx, in.ID)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	a := &Account{
		ID:           in.ID,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: string(hash),
		Role:         in.Role,
		IsDisabled:   false,
	}
	if in.IDNumber != nil && *in.IDNumber != "" {
		a.IDNumber = sql.NullString{String: *in.IDNumber, Valid: true}
	}
	return s.store.Create(ctx, a)
}

// 退職・卒業者はレコードを消さず無効化する（貸出履歴の参照整合のため）
func (s *Service) Disable(ctx context.Context, id string) error {
	n, err := s.store.SetDisabled(ctx, id, true)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
