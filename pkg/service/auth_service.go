// Auth Service - account registration, login and JWT session tokens
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
	"github.com/asistia/asistia/pkg/utils"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
)

// bcryptCost matches what existing password hashes were generated with.
// Changing it only affects new registrations.
const bcryptCost = 12

const minPasswordLength = 7

// AuthService handles user accounts and session tokens.
type AuthService struct {
	db       *gorm.DB
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(gdb *gorm.DB, cfg *config.AppConfig) *AuthService {
	return &AuthService{
		db:       gdb,
		secret:   []byte(cfg.JWTSecret()),
		tokenTTL: cfg.TokenTTL(),
		logger:   utils.GetLogger(),
	}
}

// Register creates a user account. The email must look like an email and the
// password must meet the minimum length; a duplicate email is reported with
// ErrEmailTaken so the handler can answer 422.
func (s *AuthService) Register(req *models.RegisterRequest) (*db.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address: %q", req.Email)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	var existing db.User
	err := s.db.First(&existing, "email = ?", email).Error
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	user := &db.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", "userId", user.ID, "email", user.Email)
	return user, nil
}

// Login verifies the credentials and issues a signed session token.
func (s *AuthService) Login(req *models.LoginRequest) (*models.LoginResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	var user db.User
	if err := s.db.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Same error as a wrong password, so the endpoint does not leak
			// which emails exist.
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.issueToken(&user)
	if err != nil {
		return nil, err
	}

	return &models.LoginResponse{Token: token, User: &user}, nil
}

// GetUser loads a user by id.
func (s *AuthService) GetUser(id string) (*db.User, error) {
	var user db.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// issueToken signs an HS256 JWT with the user id as subject.
func (s *AuthService) issueToken(user *db.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(s.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a session token and returns the user id it names.
func (s *AuthService) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
