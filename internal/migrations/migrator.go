// Package migrations 按文件名顺序执行 db/migrations 中嵌入的 up 脚本。
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	dbmigrations "attachr/db/migrations"
)

// advisoryLockID 使多个实例同时启动迁移时串行执行。
const advisoryLockID int64 = 0x61747461636872

type migrationFile struct {
	Name string
	SQL  string
}

// Apply 执行尚未应用的全部迁移，返回本次应用的文件名。
func Apply(ctx context.Context, db *sql.DB) ([]string, error) {
	return apply(ctx, db, dbmigrations.UpFiles)
}

func apply(ctx context.Context, db *sql.DB, fsys fs.FS) ([]string, error) {
	if db == nil {
		return nil, errors.New("nil database connection")
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		return nil, err
	}

	// advisory lock 绑定会话，必须在同一连接上加锁与解锁
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, advisoryLockID); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, advisoryLockID)

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	done, err := appliedNames(ctx, conn)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, mig := range pending(files, done) {
		if err := applyOne(ctx, conn, mig); err != nil {
			return applied, err
		}
		applied = append(applied, mig.Name)
	}
	return applied, nil
}

func loadMigrationFiles(fsys fs.FS) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return nil, fmt.Errorf("migration %s is empty", name)
		}
		files = append(files, migrationFile{Name: name, SQL: string(data)})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func pending(files []migrationFile, done map[string]bool) []migrationFile {
	var out []migrationFile
	for _, f := range files {
		if !done[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

func appliedNames(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[name] = true
	}
	return done, rows.Err()
}

func applyOne(ctx context.Context, conn *sql.Conn, mig migrationFile) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", mig.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, mig.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", mig.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", mig.Name, err)
	}
	return nil
}
