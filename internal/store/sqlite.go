// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jolks/persona-agent/internal/errors"
	"github.com/jolks/persona-agent/internal/model"

	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored UTC timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const maxListLimit = 100

// SQLiteStore implements model.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ model.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveTurn persists a turn audit record. An empty ID is filled in.
func (s *SQLiteStore) SaveTurn(turn *model.TurnRecord) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO turns (id, message, reply, error, rounds, tool_calls, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID,
		turn.Message,
		turn.Reply,
		turn.Error,
		turn.Rounds,
		turn.ToolCalls,
		formatTime(turn.StartTime),
		formatTime(turn.EndTime),
		turn.Duration,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// GetTurn returns the turn with the given ID.
func (s *SQLiteStore) GetTurn(id string) (*model.TurnRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, message, reply, error, rounds, tool_calls, start_time, end_time, duration
		FROM turns WHERE id = ?`, id)

	var t model.TurnRecord
	var startStr, endStr string
	if err := row.Scan(
		&t.ID, &t.Message, &t.Reply, &t.Error, &t.Rounds, &t.ToolCalls,
		&startStr, &endStr, &t.Duration,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("turn", id)
		}
		return nil, fmt.Errorf("scan turn row: %w", err)
	}
	t.StartTime = parseTime(startStr)
	t.EndTime = parseTime(endStr)
	return &t, nil
}

// SaveLead persists a lead. Empty ID and CreatedAt are filled in.
func (s *SQLiteStore) SaveLead(lead *model.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO leads (id, email, name, notes, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		lead.ID, lead.Email, lead.Name, lead.Notes, formatTime(lead.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// ListLeads returns up to limit leads created after since, newest first.
func (s *SQLiteStore) ListLeads(since time.Time, limit int) ([]*model.Lead, error) {
	return s.queryLeads("DESC", since, limit)
}

// LeadsAfter returns up to limit leads created after since, oldest first.
func (s *SQLiteStore) LeadsAfter(since time.Time, limit int) ([]*model.Lead, error) {
	return s.queryLeads("ASC", since, limit)
}

func (s *SQLiteStore) queryLeads(order string, since time.Time, limit int) ([]*model.Lead, error) {
	rows, err := s.db.Query(`
		SELECT id, email, name, notes, created_at
		FROM leads
		WHERE created_at > ?
		ORDER BY created_at `+order+`, id `+order+`
		LIMIT ?`, formatTime(since), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var leads []*model.Lead
	for rows.Next() {
		var l model.Lead
		var createdStr string
		if err := rows.Scan(&l.ID, &l.Email, &l.Name, &l.Notes, &createdStr); err != nil {
			return nil, fmt.Errorf("scan lead row: %w", err)
		}
		l.CreatedAt = parseTime(createdStr)
		leads = append(leads, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lead rows: %w", err)
	}
	return leads, nil
}

// SaveUnknownQuestion persists an unanswered question.
func (s *SQLiteStore) SaveUnknownQuestion(q *model.UnknownQuestion) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO unknown_questions (id, question, created_at)
		VALUES (?, ?, ?)`,
		q.ID, q.Question, formatTime(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert unknown question: %w", err)
	}
	return nil
}

// ListUnknownQuestions returns up to limit questions recorded after since,
// newest first.
func (s *SQLiteStore) ListUnknownQuestions(since time.Time, limit int) ([]*model.UnknownQuestion, error) {
	return s.queryUnknownQuestions("DESC", since, limit)
}

// UnknownQuestionsAfter returns up to limit questions recorded after since,
// oldest first.
func (s *SQLiteStore) UnknownQuestionsAfter(since time.Time, limit int) ([]*model.UnknownQuestion, error) {
	return s.queryUnknownQuestions("ASC", since, limit)
}

func (s *SQLiteStore) queryUnknownQuestions(order string, since time.Time, limit int) ([]*model.UnknownQuestion, error) {
	rows, err := s.db.Query(`
		SELECT id, question, created_at
		FROM unknown_questions
		WHERE created_at > ?
		ORDER BY created_at `+order+`, id `+order+`
		LIMIT ?`, formatTime(since), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query unknown questions: %w", err)
	}
	defer rows.Close()

	var out []*model.UnknownQuestion
	for rows.Next() {
		var q model.UnknownQuestion
		var createdStr string
		if err := rows.Scan(&q.ID, &q.Question, &createdStr); err != nil {
			return nil, fmt.Errorf("scan unknown question row: %w", err)
		}
		q.CreatedAt = parseTime(createdStr)
		out = append(out, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unknown question rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}
