// Package migrations 内嵌的 PostgreSQL 建表脚本，按文件名顺序执行
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed *.sql
var embedded embed.FS

// File 一个迁移脚本
type File struct {
	Name string
	SQL  string
}

// Load dir 不为空且存在时读磁盘，否则读内嵌脚本
func Load(dir string) ([]File, error) {
	if dir != "" {
		files, err := readDir(os.DirFS(dir))
		if err == nil {
			return files, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read migrations: %w", err)
		}
	}
	files, err := readDir(embedded)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	return files, nil
}

func readDir(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		files = append(files, File{Name: entry.Name(), SQL: string(content)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name        VARCHAR(255) PRIMARY KEY,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Apply 逐个执行未记录在 schema_migrations 中的脚本，每个脚本一个事务
// 返回本次执行的脚本名
func Apply(ctx context.Context, db *sql.DB, files []File) ([]string, error) {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan applied migration: %w", err)
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list applied migrations: %w", err)
	}

	var ran []string
	for _, f := range files {
		if applied[f.Name] || strings.TrimSpace(f.SQL) == "" {
			continue
		}
		if err := applyOne(ctx, db, f); err != nil {
			return ran, err
		}
		ran = append(ran, f.Name)
	}
	return ran, nil
}

func applyOne(ctx context.Context, db *sql.DB, f File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", f.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	// 整个文件一次 Exec，$$ 函数体不能按分号拆
	if _, err := tx.ExecContext(ctx, f.SQL); err != nil {
		return fmt.Errorf("exec migration %s: %w", f.Name, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, f.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", f.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", f.Name, err)
	}
	return nil
}
