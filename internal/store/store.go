// Package store persists compiled rules in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine/backend"
)

// ErrNotFound is returned when a rule is not stored.
var ErrNotFound = errors.New("rule not found")

// StoredRule is a row of compiled_rules.
type StoredRule struct {
	RuleUID   string          `json:"rule_uid"`
	Title     string          `json:"title"`
	Level     string          `json:"level"`
	Queries   []backend.Query `json:"queries"`
	Fields    []string        `json:"fields"`
	Errors    []string        `json:"errors"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Store struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open connects to PostgreSQL and checks the connection.
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

const upsertRule = `INSERT INTO compiled_rules(rule_uid, title, level, queries, fields, errors, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (rule_uid) DO UPDATE SET title=EXCLUDED.title, level=EXCLUDED.level, queries=EXCLUDED.queries,
		fields=EXCLUDED.fields, errors=EXCLUDED.errors, updated_at=EXCLUDED.updated_at`

// UpsertResults writes or updates the compiled rules in one transaction.
func (s *Store) UpsertResults(ctx context.Context, results []*backend.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, res := range results {
		if res == nil || res.Rule == "" {
			continue
		}
		queries := res.Queries
		if queries == nil {
			queries = []backend.Query{}
		}
		qb, err := json.Marshal(queries)
		if err != nil {
			return fmt.Errorf("encode queries of %s: %w", res.Rule, err)
		}
		fields := make([]string, 0, len(res.Fields))
		for f := range res.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		if _, err := tx.ExecContext(ctx, upsertRule,
			res.Rule, res.Title, res.Level, string(qb), pq.Array(fields), pq.Array(res.ErrorStrings()), s.now(),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", res.Rule, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("compiled rules stored", zap.Int("rules", len(results)))
	return nil
}

const selectRule = `SELECT rule_uid, title, level, queries, fields, errors, updated_at FROM compiled_rules`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(row scanner) (StoredRule, error) {
	var (
		r       StoredRule
		queries []byte
	)
	if err := row.Scan(&r.RuleUID, &r.Title, &r.Level, &queries, pq.Array(&r.Fields), pq.Array(&r.Errors), &r.UpdatedAt); err != nil {
		return StoredRule{}, err
	}
	if err := json.Unmarshal(queries, &r.Queries); err != nil {
		return StoredRule{}, fmt.Errorf("decode queries of %s: %w", r.RuleUID, err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, ruleUID string) (*StoredRule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, selectRule+` WHERE rule_uid=$1`, ruleUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns the stored rules of a level, or all of them when level is
// empty, ordered by rule_uid.
func (s *Store) List(ctx context.Context, level string) ([]StoredRule, error) {
	query, args := selectRule+` ORDER BY rule_uid`, []any{}
	if level != "" {
		query, args = selectRule+` WHERE level=$1 ORDER BY rule_uid`, []any{level}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, ruleUID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM compiled_rules WHERE rule_uid=$1`, ruleUID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FieldCatalog returns the field types known for an index.
func (s *Store) FieldCatalog(ctx context.Context, index string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, field_type FROM index_fields WHERE index_name=$1`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	catalog := map[string]string{}
	for rows.Next() {
		var field, typ string
		if err := rows.Scan(&field, &typ); err != nil {
			return nil, err
		}
		catalog[field] = typ
	}
	return catalog, rows.Err()
}
