// Package metastore is the trimmed relational side of the engine: user
// accounts (for authentication), repository records, and the projected
// branch-metadata table. Everything else the teacher's database layer
// carried — pull requests, issues, webhooks, organizations, code
// intelligence — has no SPEC_FULL.md component to serve it here.
package metastore

import (
	"context"
	"time"

	"github.com/gitlake/gitlake/internal/branchmeta"
)

// User is an account record, used for credential verification and
// attributing pushes.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Repository is a registered bare repository: its identity, ownership,
// and the blob-store prefix under which its objects/refs live.
type Repository struct {
	ID            int64
	OwnerUserID   int64
	Name          string
	Description   string
	DefaultBranch string
	IsPrivate     bool
	StoragePrefix string
	CreatedAt     time.Time
}

// DB is the data access interface implemented by the SQLite and
// PostgreSQL backends.
type DB interface {
	Close() error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error

	CreateRepository(ctx context.Context, r *Repository) error
	GetRepository(ctx context.Context, ownerName, repoName string) (*Repository, error)
	GetRepositoryByID(ctx context.Context, id int64) (*Repository, error)
	ListUserRepositories(ctx context.Context, userID int64) ([]Repository, error)
	DeleteRepository(ctx context.Context, id int64) error

	branchmeta.Store
}
