package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gitlake/gitlake/internal/branchmeta"
	"github.com/gitlake/gitlake/internal/gitobj"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresDB struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &PostgresDB{db: db}, nil
}

func (p *PostgresDB) Close() error { return p.db.Close() }

func (p *PostgresDB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresDB) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, postgresSchema)
	return err
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS repositories (
	id BIGSERIAL PRIMARY KEY,
	owner_user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	is_private BOOLEAN NOT NULL DEFAULT FALSE,
	storage_prefix TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE(owner_user_id, name)
);

CREATE TABLE IF NOT EXISTS branch_metadata (
	repo_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	head_oid TEXT NOT NULL,
	commit_count INTEGER NOT NULL DEFAULT 0,
	last_commit_oid TEXT NOT NULL DEFAULT '',
	last_commit_message TEXT NOT NULL DEFAULT '',
	last_commit_author_name TEXT NOT NULL DEFAULT '',
	last_commit_author_email TEXT NOT NULL DEFAULT '',
	last_commit_timestamp TIMESTAMPTZ,
	readme_oid TEXT NOT NULL DEFAULT '',
	root_tree_json TEXT NOT NULL DEFAULT '[]',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (repo_id, branch)
);
`

func (p *PostgresDB) CreateUser(ctx context.Context, u *User) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_admin) VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.IsAdmin).Scan(&u.ID)
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUserPG(p.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUserPG(p.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE username = $1`, username))
}

func scanUserPG(row *sql.Row) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *PostgresDB) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, userID)
	return err
}

func (p *PostgresDB) CreateRepository(ctx context.Context, r *Repository) error {
	return p.db.QueryRowContext(ctx,
		`INSERT INTO repositories (owner_user_id, name, description, default_branch, is_private, storage_prefix)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		r.OwnerUserID, r.Name, r.Description, r.DefaultBranch, r.IsPrivate, r.StoragePrefix).Scan(&r.ID)
}

func (p *PostgresDB) GetRepository(ctx context.Context, ownerName, repoName string) (*Repository, error) {
	return scanRepositoryPG(p.db.QueryRowContext(ctx,
		`SELECT r.id, r.owner_user_id, r.name, r.description, r.default_branch, r.is_private, r.storage_prefix, r.created_at
		 FROM repositories r JOIN users u ON u.id = r.owner_user_id
		 WHERE u.username = $1 AND r.name = $2`, ownerName, repoName))
}

func (p *PostgresDB) GetRepositoryByID(ctx context.Context, id int64) (*Repository, error) {
	return scanRepositoryPG(p.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, name, description, default_branch, is_private, storage_prefix, created_at
		 FROM repositories WHERE id = $1`, id))
}

func scanRepositoryPG(row *sql.Row) (*Repository, error) {
	r := &Repository{}
	if err := row.Scan(&r.ID, &r.OwnerUserID, &r.Name, &r.Description, &r.DefaultBranch, &r.IsPrivate, &r.StoragePrefix, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresDB) ListUserRepositories(ctx context.Context, userID int64) ([]Repository, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, owner_user_id, name, description, default_branch, is_private, storage_prefix, created_at
		 FROM repositories WHERE owner_user_id = $1 ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.ID, &r.OwnerUserID, &r.Name, &r.Description, &r.DefaultBranch, &r.IsPrivate, &r.StoragePrefix, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresDB) DeleteRepository(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	return err
}

func (p *PostgresDB) UpsertBranchMetadata(ctx context.Context, meta branchmeta.Metadata) error {
	rootTreeJSON, err := marshalRootTree(meta.RootTree)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO branch_metadata (
			 repo_id, branch, head_oid, commit_count, last_commit_oid, last_commit_message,
			 last_commit_author_name, last_commit_author_email, last_commit_timestamp,
			 readme_oid, root_tree_json, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT(repo_id, branch) DO UPDATE SET
			 head_oid = EXCLUDED.head_oid,
			 commit_count = EXCLUDED.commit_count,
			 last_commit_oid = EXCLUDED.last_commit_oid,
			 last_commit_message = EXCLUDED.last_commit_message,
			 last_commit_author_name = EXCLUDED.last_commit_author_name,
			 last_commit_author_email = EXCLUDED.last_commit_author_email,
			 last_commit_timestamp = EXCLUDED.last_commit_timestamp,
			 readme_oid = EXCLUDED.readme_oid,
			 root_tree_json = EXCLUDED.root_tree_json,
			 updated_at = EXCLUDED.updated_at`,
		meta.RepoID, meta.Branch, string(meta.HeadOID), meta.CommitCount, string(meta.LastCommitOID), meta.LastCommitMessage,
		meta.LastCommitAuthorName, meta.LastCommitAuthorEmail, meta.LastCommitTimestamp,
		string(meta.ReadmeOID), rootTreeJSON, meta.UpdatedAt)
	return err
}

func (p *PostgresDB) DeleteBranchMetadata(ctx context.Context, repoID, branch string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM branch_metadata WHERE repo_id = $1 AND branch = $2`, repoID, branch)
	return err
}

func (p *PostgresDB) GetBranchMetadata(ctx context.Context, repoID, branch string) (branchmeta.Metadata, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT repo_id, branch, head_oid, commit_count, last_commit_oid, last_commit_message,
			last_commit_author_name, last_commit_author_email, last_commit_timestamp,
			readme_oid, root_tree_json, updated_at
		 FROM branch_metadata WHERE repo_id = $1 AND branch = $2`, repoID, branch)

	var meta branchmeta.Metadata
	var headOID, lastCommitOID, readmeOID, rootTreeJSON string
	if err := row.Scan(&meta.RepoID, &meta.Branch, &headOID, &meta.CommitCount, &lastCommitOID, &meta.LastCommitMessage,
		&meta.LastCommitAuthorName, &meta.LastCommitAuthorEmail, &meta.LastCommitTimestamp,
		&readmeOID, &rootTreeJSON, &meta.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return branchmeta.Metadata{}, false, nil
		}
		return branchmeta.Metadata{}, false, err
	}
	meta.HeadOID = gitobj.OID(headOID)
	meta.LastCommitOID = gitobj.OID(lastCommitOID)
	meta.ReadmeOID = gitobj.OID(readmeOID)

	rootTree, err := unmarshalRootTree(rootTreeJSON)
	if err != nil {
		return branchmeta.Metadata{}, false, err
	}
	meta.RootTree = rootTree
	return meta, true, nil
}
