package services

import (
	"testing"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/internal/utils"
)

func init() {
	utils.SetJWTSecret("operator-test-secret")
}

func TestLogin(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOperatorService(db, 24)
	if err := svc.EnsureDefaultAdmin(); err != nil {
		t.Fatalf("EnsureDefaultAdmin() error = %v", err)
	}

	resp, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.Token == "" {
		t.Error("login should issue a token")
	}
	if resp.User.LastLogin == nil {
		t.Error("login should stamp last_login")
	}

	claims, err := utils.ParseToken(resp.Token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Username != "admin" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOperatorService(db, 24)
	if err := svc.EnsureDefaultAdmin(); err != nil {
		t.Fatalf("EnsureDefaultAdmin() error = %v", err)
	}

	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "nope"}); err == nil {
		t.Error("wrong password must fail")
	}
	if _, err := svc.Login(&LoginRequest{Username: "ghost", Password: "admin123"}); err == nil {
		t.Error("unknown user must fail")
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOperatorService(db, 24)
	if err := svc.EnsureDefaultAdmin(); err != nil {
		t.Fatalf("EnsureDefaultAdmin() error = %v", err)
	}
	db.Model(&models.User{}).Where("username = ?", "admin").Update("is_active", false)

	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "admin123"}); err == nil {
		t.Error("disabled account must not log in")
	}
}

func TestEnsureDefaultAdmin_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOperatorService(db, 24)

	if err := svc.EnsureDefaultAdmin(); err != nil {
		t.Fatalf("EnsureDefaultAdmin() error = %v", err)
	}
	if err := svc.EnsureDefaultAdmin(); err != nil {
		t.Fatalf("second EnsureDefaultAdmin() error = %v", err)
	}

	var count int64
	db.Model(&models.User{}).Count(&count)
	if count != 1 {
		t.Errorf("user count = %d, want 1", count)
	}
}

func TestChangePassword(t *testing.T) {
	db := setupTestDB(t)
	svc := NewOperatorService(db, 24)
	if err := svc.EnsureDefaultAdmin(); err != nil {
		t.Fatalf("EnsureDefaultAdmin() error = %v", err)
	}
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		t.Fatalf("loading admin failed: %v", err)
	}

	if err := svc.ChangePassword(admin.ID, "wrong", "newpass123"); err == nil {
		t.Error("change with a wrong old password must fail")
	}
	if err := svc.ChangePassword(admin.ID, "admin123", "newpass123"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "admin", Password: "newpass123"}); err != nil {
		t.Errorf("login with the new password failed: %v", err)
	}
}
