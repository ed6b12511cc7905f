package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals that the account does not exist.
	ErrAccountNotFound = errors.New("auth: account not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, accountID string) (Account, error)
}

// CreateAccountParams contains write parameters for creating accounts.
type CreateAccountParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `id, email, full_name, password_hash, role::text, created_at, updated_at`

// CreateAccount inserts a new account with hashed password.
func (r *PGRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	const insertSQL = `
		INSERT INTO admin_users (email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accountColumns

	account, err := scanAccount(r.pool.QueryRow(ctx, insertSQL, params.Email, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("auth: create account: %w", err)
	}

	return account, nil
}

// GetAccountByEmail retrieves an account by email address.
func (r *PGRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	const selectSQL = `
		SELECT ` + accountColumns + `
		FROM admin_users
		WHERE email = $1
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by email: %w", err)
	}

	return account, nil
}

// GetAccountByID retrieves an account by ID.
func (r *PGRepository) GetAccountByID(ctx context.Context, accountID string) (Account, error) {
	const selectSQL = `
		SELECT ` + accountColumns + `
		FROM admin_users
		WHERE id = $1
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, selectSQL, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("auth: get account by id: %w", err)
	}

	return account, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FullName,
		&account.PasswordHash,
		&account.Role,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	return account, nil
}
