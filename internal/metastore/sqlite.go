package metastore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gitlake/gitlake/internal/branchmeta"
	"github.com/gitlake/gitlake/internal/gitobj"

	_ "modernc.org/sqlite"
)

type SQLiteDB struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error { return s.db.Close() }

func (s *SQLiteDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteDB) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	is_private BOOLEAN NOT NULL DEFAULT FALSE,
	storage_prefix TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(owner_user_id, name)
);

CREATE TABLE IF NOT EXISTS branch_metadata (
	repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	branch TEXT NOT NULL,
	head_oid TEXT NOT NULL,
	commit_count INTEGER NOT NULL DEFAULT 0,
	last_commit_oid TEXT NOT NULL DEFAULT '',
	last_commit_message TEXT NOT NULL DEFAULT '',
	last_commit_author_name TEXT NOT NULL DEFAULT '',
	last_commit_author_email TEXT NOT NULL DEFAULT '',
	last_commit_timestamp DATETIME,
	readme_oid TEXT NOT NULL DEFAULT '',
	root_tree_json TEXT NOT NULL DEFAULT '[]',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (repo_id, branch)
);
`

func (s *SQLiteDB) CreateUser(ctx context.Context, u *User) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_admin) VALUES (?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.IsAdmin)
	if err != nil {
		return err
	}
	u.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, is_admin, created_at FROM users WHERE username = ?`, username))
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *SQLiteDB) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, userID)
	return err
}

func (s *SQLiteDB) CreateRepository(ctx context.Context, r *Repository) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (owner_user_id, name, description, default_branch, is_private, storage_prefix)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.OwnerUserID, r.Name, r.Description, r.DefaultBranch, r.IsPrivate, r.StoragePrefix)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteDB) GetRepository(ctx context.Context, ownerName, repoName string) (*Repository, error) {
	return scanRepository(s.db.QueryRowContext(ctx,
		`SELECT r.id, r.owner_user_id, r.name, r.description, r.default_branch, r.is_private, r.storage_prefix, r.created_at
		 FROM repositories r JOIN users u ON u.id = r.owner_user_id
		 WHERE u.username = ? AND r.name = ?`, ownerName, repoName))
}

func (s *SQLiteDB) GetRepositoryByID(ctx context.Context, id int64) (*Repository, error) {
	return scanRepository(s.db.QueryRowContext(ctx,
		`SELECT id, owner_user_id, name, description, default_branch, is_private, storage_prefix, created_at
		 FROM repositories WHERE id = ?`, id))
}

func scanRepository(row *sql.Row) (*Repository, error) {
	r := &Repository{}
	if err := row.Scan(&r.ID, &r.OwnerUserID, &r.Name, &r.Description, &r.DefaultBranch, &r.IsPrivate, &r.StoragePrefix, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteDB) ListUserRepositories(ctx context.Context, userID int64) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_user_id, name, description, default_branch, is_private, storage_prefix, created_at
		 FROM repositories WHERE owner_user_id = ? ORDER BY name`, userID)
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

func (s *SQLiteDB) DeleteRepository(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) UpsertBranchMetadata(ctx context.Context, meta branchmeta.Metadata) error {
	rootTreeJSON, err := marshalRootTree(meta.RootTree)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO branch_metadata (
			 repo_id, branch, head_oid, commit_count, last_commit_oid, last_commit_message,
			 last_commit_author_name, last_commit_author_email, last_commit_timestamp,
			 readme_oid, root_tree_json, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(repo_id, branch) DO UPDATE SET
			 head_oid = excluded.head_oid,
			 commit_count = excluded.commit_count,
			 last_commit_oid = excluded.last_commit_oid,
			 last_commit_message = excluded.last_commit_message,
			 last_commit_author_name = excluded.last_commit_author_name,
			 last_commit_author_email = excluded.last_commit_author_email,
			 last_commit_timestamp = excluded.last_commit_timestamp,
			 readme_oid = excluded.readme_oid,
			 root_tree_json = excluded.root_tree_json,
			 updated_at = excluded.updated_at`,
		meta.RepoID, meta.Branch, string(meta.HeadOID), meta.CommitCount, string(meta.LastCommitOID), meta.LastCommitMessage,
		meta.LastCommitAuthorName, meta.LastCommitAuthorEmail, meta.LastCommitTimestamp,
		string(meta.ReadmeOID), rootTreeJSON, meta.UpdatedAt)
	return err
}

func (s *SQLiteDB) DeleteBranchMetadata(ctx context.Context, repoID, branch string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM branch_metadata WHERE repo_id = ? AND branch = ?`, repoID, branch)
	return err
}

func (s *SQLiteDB) GetBranchMetadata(ctx context.Context, repoID, branch string) (branchmeta.Metadata, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo_id, branch, head_oid, commit_count, last_commit_oid, last_commit_message,
			last_commit_author_name, last_commit_author_email, last_commit_timestamp,
			readme_oid, root_tree_json, updated_at
		 FROM branch_metadata WHERE repo_id = ? AND branch = ?`, repoID, branch)

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
