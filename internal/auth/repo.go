package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

var ErrUserNotFound = errors.New("user not found")

// User is an account that owns sessions and saved projects. TokenVersion is
// bumped to invalidate every token issued before.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	TokenVersion int
	CreatedAt    time.Time
}

func (u *User) PasswordMatches(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) public() gin.H {
	return gin.H{"id": u.ID, "username": u.Username, "email": u.Email}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const userColumns = `id, username, email, password_hash, token_version, created_at`

func (r *Repo) CreateUser(ctx context.Context, u User) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, normalizeEmail(u.Email), u.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// The lookups return nil, nil when no user matches.

func (r *Repo) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "LOWER(email) = ?", normalizeEmail(email))
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "username = ?", strings.TrimSpace(username))
}

func (r *Repo) GetByID(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id = ?", id)
}

func (r *Repo) getUser(ctx context.Context, where string, arg any) (*User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)

	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TokenVersion, &u.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("get user by %s: %w", where, err)
	}
	return &u, nil
}

func (r *Repo) GetTokenVersion(ctx context.Context, id string) (int, error) {
	var version int
	err := r.DB.QueryRowContext(ctx, `SELECT token_version FROM users WHERE id = ?`, id).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrUserNotFound
	case err != nil:
		return 0, fmt.Errorf("get token version: %w", err)
	}
	return version, nil
}

// UpdatePasswordAndBumpTokenVersion stores the new hash and revokes every
// outstanding token in one statement.
func (r *Repo) UpdatePasswordAndBumpTokenVersion(ctx context.Context, id, passwordHash string) error {
	return r.updateOne(ctx, "update password",
		`UPDATE users SET password_hash = ?, token_version = token_version + 1 WHERE id = ?`,
		passwordHash, id)
}

func (r *Repo) BumpTokenVersion(ctx context.Context, id string) error {
	return r.updateOne(ctx, "bump token version",
		`UPDATE users SET token_version = token_version + 1 WHERE id = ?`, id)
}

// updateOne runs an UPDATE that must touch exactly one user row.
func (r *Repo) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}
