package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/asistia/asistia/pkg/config"
	"github.com/asistia/asistia/pkg/db"
	"github.com/asistia/asistia/pkg/models"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return NewAuthService(gdb, &config.AppConfig{})
}

func TestRegisterAndLogin(t *testing.T) {
	auth := newTestAuthService(t)

	user, err := auth.Register(&models.RegisterRequest{
		Email:    "Ana@Example.com",
		Password: "secret-password",
		Name:     "Ana",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "ana@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if user.PasswordHash == "secret-password" || user.PasswordHash == "" {
		t.Error("password stored unhashed")
	}

	resp, err := auth.Login(&models.LoginRequest{Email: "ana@example.com", Password: "secret-password"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Token == "" {
		t.Error("login returned empty token")
	}
	if resp.User.ID != user.ID {
		t.Errorf("login user = %s, want %s", resp.User.ID, user.ID)
	}

	userID, err := auth.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if userID != user.ID {
		t.Errorf("token subject = %s, want %s", userID, user.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	auth := newTestAuthService(t)

	if _, err := auth.Register(&models.RegisterRequest{Email: "no-at-sign", Password: "longenough"}); err == nil {
		t.Error("accepted email without @")
	}
	if _, err := auth.Register(&models.RegisterRequest{Email: "a@b.com", Password: "short6"}); err == nil {
		t.Error("accepted 6-character password")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	auth := newTestAuthService(t)

	req := &models.RegisterRequest{Email: "dup@example.com", Password: "secret-password"}
	if _, err := auth.Register(req); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := auth.Register(req)
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth := newTestAuthService(t)

	if _, err := auth.Register(&models.RegisterRequest{Email: "a@b.com", Password: "secret-password"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := auth.Login(&models.LoginRequest{Email: "a@b.com", Password: "wrong-password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}

	// Unknown email reads the same as a wrong password.
	_, err = auth.Login(&models.LoginRequest{Email: "ghost@b.com", Password: "whatever-pass"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	auth := newTestAuthService(t)

	for _, token := range []string{"", "not.a.jwt", strings.Repeat("x", 200)} {
		if _, err := auth.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("VerifyToken(%q) err = %v, want ErrInvalidToken", token, err)
		}
	}
}
