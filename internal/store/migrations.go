package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the bundled schema files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// RunMigrationsDir executes the .sql files of dir, falling back to the
// bundled schema when dir does not exist.
func (s *Store) RunMigrationsDir(ctx context.Context, dir string) error {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return s.RunMigrations(ctx, os.DirFS(dir))
		}
	}
	return s.RunMigrations(ctx, Migrations())
}

// RunMigrations executes all .sql files of fsys in lexicographic order. Each
// file may hold several statements separated by ';'.
func (s *Store) RunMigrations(ctx context.Context, fsys fs.FS) error {
	var entries []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			entries = append(entries, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(entries)

	for _, p := range entries {
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", p, err)
		}
		for _, chunk := range strings.Split(string(b), ";") {
			stmt := strings.TrimSpace(chunk)
			if stmt == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec migration %s: %w", p, err)
			}
		}
		s.logger.Debug("migration applied", zap.String("file", p))
	}
	return nil
}
