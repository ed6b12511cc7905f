package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "vera@example.com",
		Password: "supersafe",
		FullName: "Vera Arbitrator",
	}

	ctx := context.Background()
	account, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if account.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, account.Email)
	}
	if account.Role != RoleArbitrator {
		t.Fatalf("register: expected default role %s got %s", RoleArbitrator, account.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Account.ID != account.ID {
		t.Fatalf("login: expected account id %q got %q", account.ID, resp.Account.ID)
	}

	tokenAccountID, tokenRole, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if tokenAccountID != account.ID {
		t.Fatalf("verify token: expected %q got %q", account.ID, tokenAccountID)
	}
	if tokenRole != RoleArbitrator {
		t.Fatalf("verify token: expected role %s got %s", RoleArbitrator, tokenRole)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "vera@example.com",
		Password: "short",
		FullName: "Vera Arbitrator",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "vera@example.com",
		Password: "strongpassword",
		FullName: "Vera Arbitrator",
		Role:     "superuser",
	}); err == nil {
		t.Fatal("expected validation error for unknown role")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:    "vera@example.com",
		Password: "strongpassword",
		FullName: "Vera Arbitrator",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_VerifyTokenRejectsForeignSecret(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "vera@example.com",
		Password: "strongpassword",
		FullName: "Vera Arbitrator",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(context.Background(), LoginRequest{Email: "vera@example.com", Password: "strongpassword"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewService(repo, "different-secret")
	if _, _, err := other.VerifyToken(resp.Token); err == nil {
		t.Fatal("expected verification failure with a different secret")
	}
}

type fakeRepository struct {
	accountsByEmail map[string]Account
	accountsByID    map[string]Account
	nextID          int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		accountsByEmail: make(map[string]Account),
		accountsByID:    make(map[string]Account),
		nextID:          1,
	}
}

func (f *fakeRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	if _, exists := f.accountsByEmail[strings.ToLower(params.Email)]; exists {
		return Account{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("account-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleArbitrator
	}

	account := Account{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.accountsByEmail[strings.ToLower(account.Email)] = account
	f.accountsByID[account.ID] = account

	return account, nil
}

func (f *fakeRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	account, ok := f.accountsByEmail[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (f *fakeRepository) GetAccountByID(ctx context.Context, accountID string) (Account, error) {
	account, ok := f.accountsByID[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}
