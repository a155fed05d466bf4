package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the persistence operations for rules and their
// execution history.
type Repository interface {
	// GetRule retrieves a rule by ID. Returns ErrRuleNotFound if missing.
	GetRule(ctx context.Context, id string) (*Rule, error)

	// ListRules returns the rules for deviceID, or every rule when
	// deviceID is empty.
	ListRules(ctx context.Context, deviceID string) ([]Rule, error)

	// ListEnabledRules returns every enabled rule. Read on each scheduler tick.
	ListEnabledRules(ctx context.Context) ([]Rule, error)

	// CreateRule inserts a rule. Returns ErrDuplicateRule when the device
	// already has a rule with the same on and off times.
	CreateRule(ctx context.Context, rule *Rule) error

	// UpdateRule replaces a rule's times, timezone and enabled flag.
	UpdateRule(ctx context.Context, rule *Rule) error

	// DeleteRule removes a rule. Returns ErrRuleNotFound if missing.
	DeleteRule(ctx context.Context, id string) error

	// CreateExecution appends an execution log entry.
	CreateExecution(ctx context.Context, exec *ExecutionLog) error

	// ListExecutions returns a rule's execution history, newest first.
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]ExecutionLog, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const ruleColumns = `id, device_id, on_time, off_time, timezone, enabled, created_by, created_at, updated_at`

// GetRule retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule: %w", err)
	}
	return rule, nil
}

// ListRules retrieves rules ordered by device then on time.
func (r *SQLiteRepository) ListRules(ctx context.Context, deviceID string) ([]Rule, error) {
	if deviceID == "" {
		return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM automation_rules ORDER BY device_id, on_time`)
	}
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE device_id = ? ORDER BY on_time`, deviceID)
}

// ListEnabledRules retrieves all enabled rules.
func (r *SQLiteRepository) ListEnabledRules(ctx context.Context) ([]Rule, error) {
	return r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE enabled = 1 ORDER BY device_id, on_time`)
}

func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// CreateRule inserts a new rule.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule *Rule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = rule.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO automation_rules (`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.DeviceID, rule.OnTime, rule.OffTime, rule.Timezone, boolToInt(rule.Enabled),
		rule.CreatedBy, formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateRule
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// UpdateRule updates the mutable fields of a rule.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`UPDATE automation_rules
		SET on_time = ?, off_time = ?, timezone = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		rule.OnTime, rule.OffTime, rule.Timezone, boolToInt(rule.Enabled), formatTime(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateRule
		}
		return fmt.Errorf("updating rule: %w", err)
	}
	return requireAffected(result, ErrRuleNotFound)
}

// DeleteRule removes a rule by ID.
func (r *SQLiteRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return requireAffected(result, ErrRuleNotFound)
}

// CreateExecution appends an execution log entry.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *ExecutionLog) error {
	if exec.ID == "" {
		exec.ID = GenerateID()
	}
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO automation_logs (id, rule_id, action, success, message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.RuleID, string(exec.Action), boolToInt(exec.Success), exec.Message, formatTime(exec.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting execution log: %w", err)
	}
	return nil
}

// ListExecutions returns up to limit executions for ruleID, newest first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]ExecutionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, rule_id, action, success, message, executed_at
		FROM automation_logs WHERE rule_id = ?
		ORDER BY executed_at DESC LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying execution logs: %w", err)
	}
	defer rows.Close()

	var logs []ExecutionLog
	for rows.Next() {
		var e ExecutionLog
		var action, executedAt string
		var success int
		if err := rows.Scan(&e.ID, &e.RuleID, &action, &success, &e.Message, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning execution log: %w", err)
		}
		e.Action = Action(action)
		e.Success = success != 0
		if e.ExecutedAt, err = parseTime(executedAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating execution logs: %w", err)
	}
	return logs, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var enabled int
	var createdAt, updatedAt string
	err := row.Scan(&rule.ID, &rule.DeviceID, &rule.OnTime, &rule.OffTime, &rule.Timezone,
		&enabled, &rule.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled != 0
	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rule.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rule, nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
