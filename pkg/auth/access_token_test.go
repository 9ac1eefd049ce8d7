package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGenerateAndValidate(t *testing.T) {
	manager := NewAccessTokenManager([]byte("secret"), time.Hour)
	userID := uuid.New()

	token, err := manager.Generate(userID, RoleFarmer)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	claims, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}

	if claims.UserID != userID.String() {
		t.Fatalf("expected user id %s, got %s", userID, claims.UserID)
	}
	if claims.Role != RoleFarmer {
		t.Fatalf("expected role %s, got %s", RoleFarmer, claims.Role)
	}
}

func TestValidateWrongKey(t *testing.T) {
	manager := NewAccessTokenManager([]byte("secret"), time.Hour)
	token, err := manager.Generate(uuid.New(), RoleWorker)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	other := NewAccessTokenManager([]byte("different"), time.Hour)
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation to fail with wrong key")
	}
}

func TestValidateExpired(t *testing.T) {
	manager := NewAccessTokenManager([]byte("secret"), -time.Minute)
	token, err := manager.Generate(uuid.New(), RoleWorker)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := manager.Validate(token); err == nil {
		t.Fatal("expected validation to fail for expired token")
	}
}

func TestIsEmployer(t *testing.T) {
	if IsEmployer(RoleWorker) {
		t.Fatal("worker must not be an employer")
	}
	if !IsEmployer(RoleFarmer) || !IsEmployer(RoleWarehouse) {
		t.Fatal("farmer and warehouse are employers")
	}
}
