package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Transcription is one completed job as persisted for history lookups.
type Transcription struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"user_id"`
	Text            string    `json:"text"`
	Language        string    `json:"language"`
	DurationSeconds float64   `json:"duration_seconds"`
	MediaKind       string    `json:"media_kind"`
	CreatedAt       time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "voznote.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			language TEXT NOT NULL,
			duration_seconds REAL NOT NULL DEFAULT 0,
			media_kind TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create transcriptions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_settings (
			user_id INTEGER PRIMARY KEY,
			language TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create user_settings table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcriptions_user ON transcriptions(user_id, created_at)"); err != nil {
		return fmt.Errorf("create transcriptions index: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveTranscription appends a completed transcription to the history.
// Callers treat failures as best-effort: log and continue.
func (s *Store) SaveTranscription(userID int64, text, language string, durationSeconds float64, mediaKind string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("transcription text is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO transcriptions(user_id, text, language, duration_seconds, media_kind, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		userID,
		text,
		language,
		durationSeconds,
		mediaKind,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save transcription for user %d: %w", userID, err)
	}
	return nil
}

// History returns the most recent transcriptions for a user, newest first.
func (s *Store) History(userID int64, limit int) ([]Transcription, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT id, user_id, text, language, duration_seconds, media_kind, created_at
		 FROM transcriptions
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history for user %d: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]Transcription, 0, limit)
	for rows.Next() {
		var tr Transcription
		var createdAt string
		if err := rows.Scan(&tr.ID, &tr.UserID, &tr.Text, &tr.Language, &tr.DurationSeconds, &tr.MediaKind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		tr.CreatedAt = parsed

		items = append(items, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	return items, nil
}

// UserStats aggregates a user's archive: total transcriptions and total
// audio seconds transcribed.
func (s *Store) UserStats(userID int64) (count int64, totalSeconds float64, err error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(duration_seconds), 0)
		 FROM transcriptions
		 WHERE user_id = ?`,
		userID,
	)
	if err := row.Scan(&count, &totalSeconds); err != nil {
		return 0, 0, fmt.Errorf("query stats for user %d: %w", userID, err)
	}
	return count, totalSeconds, nil
}

// UserLanguage returns the stored preference, defaulting to Spanish.
func (s *Store) UserLanguage(userID int64) (string, error) {
	row := s.db.QueryRow(`SELECT language FROM user_settings WHERE user_id = ?`, userID)

	var lang string
	if err := row.Scan(&lang); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "es", nil
		}
		return "es", fmt.Errorf("query language for user %d: %w", userID, err)
	}
	return lang, nil
}

func (s *Store) SetUserLanguage(userID int64, language string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_settings(user_id, language) VALUES(?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET language = excluded.language`,
		userID,
		language,
	)
	if err != nil {
		return fmt.Errorf("set language for user %d: %w", userID, err)
	}
	return nil
}
