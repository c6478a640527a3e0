package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	transcriptMu sync.Mutex // Mutex for transcript writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS profile (
		uid TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL,
		avatar_url TEXT,
		learning_style TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS missions (
		mission_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		skills_json TEXT,
		checkpoints_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrolled_missions (
		mission_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		completed_json TEXT,
		enrolled_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_enrolled_at ON enrolled_missions(enrolled_at);

	CREATE TABLE IF NOT EXISTS checkpoint_state (
		mission_id TEXT PRIMARY KEY,
		completed_json TEXT NOT NULL,
		progress REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_key TEXT NOT NULL,
		origin TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_key ON transcripts(conversation_key, id);
	CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetProfile retrieves the cached profile for a user.
func (s *SQLiteStore) GetProfile(ctx context.Context, uid string) (*domain.UserProfile, error) {
	query := `
		SELECT uid, email, name, avatar_url, learning_style, created_at
		FROM profile WHERE uid = ?`

	row := s.db.QueryRowContext(ctx, query, uid)

	var profile domain.UserProfile
	var avatarURL, learningStyle sql.NullString
	var createdAt int64

	err := row.Scan(
		&profile.UID, &profile.Email, &profile.Name,
		&avatarURL, &learningStyle, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile row: %w", err)
	}

	profile.AvatarURL = avatarURL.String
	profile.LearningStyle = learningStyle.String
	profile.CreatedAt = time.Unix(createdAt, 0)

	return &profile, nil
}

// UpsertProfile creates or updates the cached profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *domain.UserProfile) error {
	query := `
	INSERT INTO profile (uid, email, name, avatar_url, learning_style, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(uid) DO UPDATE SET
		email = excluded.email,
		name = excluded.name,
		avatar_url = excluded.avatar_url,
		learning_style = excluded.learning_style,
		updated_at = excluded.updated_at`

	var avatarURL interface{}
	if profile.AvatarURL != "" {
		avatarURL = profile.AvatarURL
	}
	var learningStyle interface{}
	if profile.LearningStyle != "" {
		learningStyle = profile.LearningStyle
	}

	_, err := s.db.ExecContext(ctx, query,
		profile.UID, profile.Email, profile.Name,
		avatarURL, learningStyle,
		profile.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetMission retrieves a cached mission definition.
func (s *SQLiteStore) GetMission(ctx context.Context, missionID string) (*domain.Mission, error) {
	query := `
		SELECT mission_id, title, description, skills_json, checkpoints_json, created_at
		FROM missions WHERE mission_id = ?`

	row := s.db.QueryRowContext(ctx, query, missionID)

	var mission domain.Mission
	var description, skillsJSON, checkpointsJSON sql.NullString
	var createdAt int64

	err := row.Scan(
		&mission.MissionID, &mission.Title, &description,
		&skillsJSON, &checkpointsJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan mission row: %w", err)
	}

	mission.Description = description.String
	mission.CreatedAt = time.Unix(createdAt, 0)

	if skillsJSON.Valid {
		if err := json.Unmarshal([]byte(skillsJSON.String), &mission.Skills); err != nil {
			return nil, fmt.Errorf("decode mission skills: %w", err)
		}
	}
	if checkpointsJSON.Valid {
		if err := json.Unmarshal([]byte(checkpointsJSON.String), &mission.Checkpoints); err != nil {
			return nil, fmt.Errorf("decode mission checkpoints: %w", err)
		}
	}

	return &mission, nil
}

// UpsertMission caches a mission definition.
func (s *SQLiteStore) UpsertMission(ctx context.Context, mission *domain.Mission) error {
	query := `
	INSERT INTO missions (mission_id, title, description, skills_json, checkpoints_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(mission_id) DO UPDATE SET
		title = excluded.title,
		description = excluded.description,
		skills_json = excluded.skills_json,
		checkpoints_json = excluded.checkpoints_json,
		updated_at = excluded.updated_at`

	var description interface{}
	if mission.Description != "" {
		description = mission.Description
	}

	var skillsJSON interface{}
	if len(mission.Skills) > 0 {
		data, err := json.Marshal(mission.Skills)
		if err != nil {
			return fmt.Errorf("encode mission skills: %w", err)
		}
		skillsJSON = string(data)
	}

	var checkpointsJSON interface{}
	if len(mission.Checkpoints) > 0 {
		data, err := json.Marshal(mission.Checkpoints)
		if err != nil {
			return fmt.Errorf("encode mission checkpoints: %w", err)
		}
		checkpointsJSON = string(data)
	}

	_, err := s.db.ExecContext(ctx, query,
		mission.MissionID, mission.Title, description,
		skillsJSON, checkpointsJSON,
		mission.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert mission: %w", err)
	}
	return nil
}

// ReplaceEnrolledMissions replaces the cached enrollment list wholesale.
func (s *SQLiteStore) ReplaceEnrolledMissions(ctx context.Context, missions []domain.EnrolledMission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment replace: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back enrollment replace", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrolled_missions`); err != nil {
		return fmt.Errorf("clear enrolled missions: %w", err)
	}

	insert := `
	INSERT INTO enrolled_missions (mission_id, title, progress, completed_json, enrolled_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	for _, m := range missions {
		var completedJSON interface{}
		if len(m.CompletedCheckpoints) > 0 {
			data, err := json.Marshal(m.CompletedCheckpoints)
			if err != nil {
				return fmt.Errorf("encode completed checkpoints: %w", err)
			}
			completedJSON = string(data)
		}
		if _, err := tx.ExecContext(ctx, insert,
			m.MissionID, m.Title, m.Progress, completedJSON, m.EnrolledAt.Unix(), now,
		); err != nil {
			return fmt.Errorf("insert enrolled mission %s: %w", m.MissionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment replace: %w", err)
	}
	return nil
}

// ListEnrolledMissions returns cached enrollments, most recently enrolled first.
func (s *SQLiteStore) ListEnrolledMissions(ctx context.Context, limit int) ([]domain.EnrolledMission, error) {
	query := `
		SELECT mission_id, title, progress, completed_json, enrolled_at
		FROM enrolled_missions ORDER BY enrolled_at DESC, mission_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrolled missions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close enrolled missions rows", "error", closeErr)
		}
	}()

	var missions []domain.EnrolledMission
	for rows.Next() {
		var m domain.EnrolledMission
		var completedJSON sql.NullString
		var enrolledAt int64

		if err := rows.Scan(&m.MissionID, &m.Title, &m.Progress, &completedJSON, &enrolledAt); err != nil {
			return nil, fmt.Errorf("scan enrolled mission row: %w", err)
		}

		if completedJSON.Valid {
			if err := json.Unmarshal([]byte(completedJSON.String), &m.CompletedCheckpoints); err != nil {
				return nil, fmt.Errorf("decode completed checkpoints: %w", err)
			}
		}
		m.EnrolledAt = time.Unix(enrolledAt, 0)
		missions = append(missions, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enrolled missions: %w", err)
	}

	return missions, nil
}

// SaveCheckpointState records the latest checkpoint progress for a mission.
func (s *SQLiteStore) SaveCheckpointState(ctx context.Context, missionID string, state *domain.CheckpointProgress) error {
	data, err := json.Marshal(state.Completed)
	if err != nil {
		return fmt.Errorf("encode checkpoint state: %w", err)
	}

	query := `
	INSERT INTO checkpoint_state (mission_id, completed_json, progress, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(mission_id) DO UPDATE SET
		completed_json = excluded.completed_json,
		progress = excluded.progress,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query, missionID, string(data), state.Progress, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save checkpoint state: %w", err)
	}
	return nil
}

// GetCheckpointState retrieves the latest checkpoint progress for a mission.
func (s *SQLiteStore) GetCheckpointState(ctx context.Context, missionID string) (*domain.CheckpointProgress, error) {
	query := `SELECT completed_json, progress FROM checkpoint_state WHERE mission_id = ?`

	row := s.db.QueryRowContext(ctx, query, missionID)

	var state domain.CheckpointProgress
	var completedJSON string

	err := row.Scan(&completedJSON, &state.Progress)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint state: %w", err)
	}

	if err := json.Unmarshal([]byte(completedJSON), &state.Completed); err != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", err)
	}

	return &state, nil
}

// AppendTranscript appends one message to a conversation transcript.
// Retries with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, key string, msg domain.ChatMessage) error {
	return s.transcriptWrite(key, "append", func() error {
		return s.appendTranscriptOnce(ctx, key, msg)
	})
}

// ReplaceTranscript replaces a conversation transcript wholesale. Server
// history frames are authoritative, so the local record is overwritten
// rather than merged.
func (s *SQLiteStore) ReplaceTranscript(ctx context.Context, key string, msgs []domain.ChatMessage) error {
	return s.transcriptWrite(key, "replace", func() error {
		return s.replaceTranscriptOnce(ctx, key, msgs)
	})
}

// transcriptWrite runs one transcript write, retrying with exponential
// backoff when the database reports SQLITE_BUSY.
func (s *SQLiteStore) transcriptWrite(key, op string, fn func() error) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		if isSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("transcript write hit SQLITE_BUSY, retrying",
				"op", op,
				"conversation_key", key,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		// Non-retryable error or max retries exceeded
		return fmt.Errorf("failed to %s transcript for %s after %d attempts: %w", op, key, i+1, err)
	}

	return nil
}

// appendTranscriptOnce performs a single insert attempt.
func (s *SQLiteStore) appendTranscriptOnce(ctx context.Context, key string, msg domain.ChatMessage) error {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	query := `INSERT INTO transcripts (conversation_key, origin, body, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, string(msg.Origin), msg.Text, msg.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}
	return nil
}

// replaceTranscriptOnce performs a single replace attempt.
func (s *SQLiteStore) replaceTranscriptOnce(ctx context.Context, key string, msgs []domain.ChatMessage) error {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transcript replace: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back transcript replace", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcripts WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}

	insert := `INSERT INTO transcripts (conversation_key, origin, body, created_at) VALUES (?, ?, ?, ?)`
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, insert, key, string(msg.Origin), msg.Text, msg.Timestamp.Unix()); err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript replace: %w", err)
	}
	return nil
}

// RecentTranscript returns the most recent messages for a conversation in
// chronological order.
func (s *SQLiteStore) RecentTranscript(ctx context.Context, key string, limit int) ([]domain.ChatMessage, error) {
	query := `
		SELECT origin, body, created_at
		FROM transcripts WHERE conversation_key = ? ORDER BY id DESC`
	args := []interface{}{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var origin string
		var createdAt int64

		if err := rows.Scan(&origin, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		msg.Origin = domain.Origin(origin)
		msg.Timestamp = time.Unix(createdAt, 0)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}

	// Rows were read newest first; flip to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// PruneTranscripts removes transcript rows older than keep.
func (s *SQLiteStore) PruneTranscripts(ctx context.Context, keep time.Duration) (int64, error) {
	threshold := time.Now().Add(-keep).Unix()
	query := `DELETE FROM transcripts WHERE created_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("prune transcripts: %w", err)
	}
	return result.RowsAffected()
}

// ClearUserData removes all locally cached user state.
func (s *SQLiteStore) ClearUserData(ctx context.Context) (int64, error) {
	s.transcriptMu.Lock()
	defer s.transcriptMu.Unlock()

	var total int64
	for _, table := range []string{"profile", "missions", "enrolled_missions", "checkpoint_state", "transcripts"} {
		result, err := s.db.ExecContext(ctx, `DELETE FROM `+table)
		if err != nil {
			return total, fmt.Errorf("clear %s: %w", table, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("%s rows affected: %w", table, err)
		}
		total += rows
	}
	return total, nil
}
