package interaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL UNIQUE,
	user_phone       TEXT NOT NULL DEFAULT '',
	language         TEXT NOT NULL,
	transcript       TEXT NOT NULL DEFAULT '',
	answer_text      TEXT NOT NULL DEFAULT '',
	answer_audio_url TEXT NOT NULL DEFAULT '',
	intent           TEXT NOT NULL DEFAULT '',
	tags             TEXT NOT NULL DEFAULT '[]',
	status           TEXT NOT NULL,
	failure_reason   TEXT NOT NULL DEFAULT '',
	audio_duration   REAL NOT NULL DEFAULT 0,
	processing_time  INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS interactions_created_at ON interactions(created_at);

CREATE TABLE IF NOT EXISTS user_profiles (
	id                 TEXT PRIMARY KEY,
	phone              TEXT NOT NULL UNIQUE,
	preferred_language TEXT NOT NULL DEFAULT 'en',
	village            TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL DEFAULT '',
	crops              TEXT NOT NULL DEFAULT '[]',
	total_interactions INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
`

const interactionColumns = `id, session_id, user_phone, language, transcript, answer_text, answer_audio_url,
	intent, tags, status, failure_reason, audio_duration, processing_time, created_at, updated_at`

// SQLiteStore persists interactions in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer at a time keeps read-modify-write updates atomic
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec Interaction) (Interaction, error) {
	now := s.now().UTC()
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	tags, _ := json.Marshal(rec.Tags)
	_, err := s.db.ExecContext(ctx, `INSERT INTO interactions(`+interactionColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.SessionID, rec.UserPhone, rec.Language, rec.Transcript, rec.AnswerText,
		rec.AnswerAudioURL, rec.Intent, string(tags), string(rec.Status), rec.FailureReason,
		rec.AudioDuration, rec.ProcessingTime, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	if err != nil {
		return Interaction{}, unavailable(err, "insert interaction")
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, p Patch) (Interaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Interaction{}, unavailable(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := scanInteraction(tx.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE id=?`, id))
	if err != nil {
		return Interaction{}, err
	}
	if err := p.Apply(&rec, s.now()); err != nil {
		return Interaction{}, err
	}
	tags, _ := json.Marshal(rec.Tags)
	_, err = tx.ExecContext(ctx, `UPDATE interactions SET language=?, transcript=?, answer_text=?, answer_audio_url=?,
		intent=?, tags=?, status=?, failure_reason=?, processing_time=?, updated_at=? WHERE id=?`,
		rec.Language, rec.Transcript, rec.AnswerText, rec.AnswerAudioURL, rec.Intent, string(tags), string(rec.Status),
		rec.FailureReason, rec.ProcessingTime, formatTime(rec.UpdatedAt), id)
	if err != nil {
		return Interaction{}, unavailable(err, "update interaction")
	}
	if err := tx.Commit(); err != nil {
		return Interaction{}, unavailable(err, "commit")
	}
	return rec, nil
}

func (s *SQLiteStore) GetBySessionID(ctx context.Context, sessionID string) (Interaction, error) {
	return scanInteraction(s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interactions WHERE session_id=?`, sessionID))
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]Interaction, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(f.To))
	}
	q := `SELECT ` + interactionColumns + ` FROM interactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.limit())

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err, "list interactions")
	}
	defer rows.Close()
	var out []Interaction
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "list interactions")
	}
	return out, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, phone string) (UserProfile, error) {
	var (
		p         UserProfile
		crops     string
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, phone, preferred_language, village, state, crops,
		total_interactions, created_at, updated_at FROM user_profiles WHERE phone=?`, phone).
		Scan(&p.ID, &p.Phone, &p.PreferredLanguage, &p.Village, &p.State, &crops, &p.TotalInteractions, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, errors.Wrapf(ErrNotFound, "profile %s", phone)
	}
	if err != nil {
		return UserProfile{}, unavailable(err, "get profile")
	}
	_ = json.Unmarshal([]byte(crops), &p.Crops)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p UserProfile) (UserProfile, error) {
	now := s.now().UTC()
	if p.Crops == nil {
		p.Crops = []string{}
	}
	if p.PreferredLanguage == "" {
		p.PreferredLanguage = "en"
	}
	crops, _ := json.Marshal(p.Crops)
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_profiles(id, phone, preferred_language, village, state, crops,
		total_interactions, created_at, updated_at) VALUES(?,?,?,?,?,?,0,?,?)
		ON CONFLICT(phone) DO UPDATE SET preferred_language=excluded.preferred_language, village=excluded.village,
		state=excluded.state, crops=excluded.crops, updated_at=excluded.updated_at`,
		uuid.NewString(), p.Phone, p.PreferredLanguage, p.Village, p.State, string(crops), formatTime(now), formatTime(now))
	if err != nil {
		return UserProfile{}, unavailable(err, "upsert profile")
	}
	return s.GetProfile(ctx, p.Phone)
}

func (s *SQLiteStore) IncrementInteractions(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE user_profiles SET total_interactions = total_interactions + 1,
		updated_at=? WHERE phone=?`, formatTime(s.now()), phone)
	if err != nil {
		return unavailable(err, "increment interactions")
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (Interaction, error) {
	var (
		rec       Interaction
		tags      string
		status    string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.UserPhone, &rec.Language, &rec.Transcript, &rec.AnswerText,
		&rec.AnswerAudioURL, &rec.Intent, &tags, &status, &rec.FailureReason, &rec.AudioDuration,
		&rec.ProcessingTime, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, unavailable(err, "scan interaction")
	}
	rec.Status = Status(status)
	rec.Tags = []string{}
	_ = json.Unmarshal([]byte(tags), &rec.Tags)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// sqliteTime is fixed width so that text ordering matches time ordering.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(sqliteTime, s)
	return t
}
