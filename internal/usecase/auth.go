package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"coder-agent/internal/domain"
	"coder-agent/internal/repository"
)

const defaultTokenTTL = 10 * time.Hour

// UserStore is the account persistence surface consumed by AuthService.
type UserStore interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
}

// ParamGetter fetches secrets from the parameter store.
type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// AuthService handles signup, login and access-token verification. The JWT
// signing secret is loaded from SSM on first use and cached for the process
// lifetime; a load failure is retried on the next request.
type AuthService struct {
	users       UserStore
	params      ParamGetter
	paramPrefix string
	tokenTTL    time.Duration

	cacheMu     sync.RWMutex
	cacheLoaded bool
	jwtSecret   []byte
}

type LoginOutput struct {
	AccessToken string
	User        domain.User
}

func NewAuthService(users UserStore, params ParamGetter, paramPrefix string, tokenTTL time.Duration) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	if params == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{
		users:       users,
		params:      params,
		paramPrefix: paramPrefix,
		tokenTTL:    tokenTTL,
	}, nil
}

// Signup registers a new account with a bcrypt-hashed password.
func (s *AuthService) Signup(ctx context.Context, email, name, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, newError(ErrorInvalidInput, "invalid_email", nil)
	}
	if strings.TrimSpace(password) == "" {
		return domain.User{}, newError(ErrorInvalidInput, "empty_password", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, newError(ErrorInternal, "password_hash_error", err)
	}

	u := domain.User{
		ID:           newUUID(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return domain.User{}, newError(ErrorConflict, "email_registered", err)
		}
		return domain.User{}, newError(ErrorInternal, "user_create_error", err)
	}

	u.PasswordHash = ""
	return u, nil
}

// Login verifies credentials and issues a signed access token. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginOutput, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return LoginOutput{}, newError(ErrorUnauthorized, "invalid_credentials", nil)
		}
		return LoginOutput{}, newError(ErrorInternal, "user_lookup_error", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return LoginOutput{}, newError(ErrorUnauthorized, "invalid_credentials", nil)
	}

	secret, err := s.ensureSecret(ctx)
	if err != nil {
		return LoginOutput{}, newError(ErrorInternal, "jwt_secret_error", err)
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": u.Email,
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return LoginOutput{}, newError(ErrorInternal, "jwt_sign_error", err)
	}

	u.PasswordHash = ""
	return LoginOutput{AccessToken: signed, User: u}, nil
}

// VerifyToken validates an access token and returns the subject email.
func (s *AuthService) VerifyToken(ctx context.Context, tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", newError(ErrorUnauthorized, "missing_token", nil)
	}

	secret, err := s.ensureSecret(ctx)
	if err != nil {
		return "", newError(ErrorInternal, "jwt_secret_error", err)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", newError(ErrorUnauthorized, "invalid_token", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", newError(ErrorUnauthorized, "invalid_token", err)
	}
	return subject, nil
}

func (s *AuthService) ensureSecret(ctx context.Context) ([]byte, error) {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		defer s.cacheMu.RUnlock()
		return s.jwtSecret, nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return s.jwtSecret, nil
	}

	secret, err := s.params.GetParameter(ctx, s.paramPrefix+"/jwt-secret")
	if err != nil {
		return nil, fmt.Errorf("usecase: load jwt secret: %w", err)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("usecase: jwt secret is empty")
	}

	s.jwtSecret = []byte(secret)
	s.cacheLoaded = true
	return s.jwtSecret, nil
}
