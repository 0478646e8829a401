package interaction

import (
	"context"
	"embed"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pgInteractionColumns = `id::text, session_id, user_phone, language, transcript, answer_text, answer_audio_url,
	intent, tags, status, failure_reason, audio_duration, processing_time, created_at, updated_at`

// PostgresStore persists interactions in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects to databaseURL and applies pending migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// Migrate applies pending schema migrations to databaseURL without keeping a
// store open. Supabase deployments run it against the project's Postgres
// connection string before switching STORE_BACKEND to supabase.
func Migrate(ctx context.Context, databaseURL string) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	defer pool.Close()
	return migrate(ctx, pool)
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "goose dialect")
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec Interaction) (Interaction, error) {
	now := s.now().UTC()
	rec.ID = uuid.NewString()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO interactions(`+interactionColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		rec.ID, rec.SessionID, rec.UserPhone, rec.Language, rec.Transcript, rec.AnswerText,
		rec.AnswerAudioURL, rec.Intent, rec.Tags, string(rec.Status), rec.FailureReason,
		rec.AudioDuration, rec.ProcessingTime, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return Interaction{}, unavailable(err, "insert interaction")
	}
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, p Patch) (Interaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Interaction{}, unavailable(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanPgInteraction(tx.QueryRow(ctx, `SELECT `+pgInteractionColumns+` FROM interactions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Interaction{}, err
	}
	if err := p.Apply(&rec, s.now()); err != nil {
		return Interaction{}, err
	}
	_, err = tx.Exec(ctx, `UPDATE interactions SET transcript=$1, answer_text=$2, answer_audio_url=$3,
		intent=$4, tags=$5, status=$6, failure_reason=$7, processing_time=$8, updated_at=$9, language=$10 WHERE id=$11`,
		rec.Transcript, rec.AnswerText, rec.AnswerAudioURL, rec.Intent, rec.Tags, string(rec.Status),
		rec.FailureReason, rec.ProcessingTime, rec.UpdatedAt, rec.Language, id)
	if err != nil {
		return Interaction{}, unavailable(err, "update interaction")
	}
	if err := tx.Commit(ctx); err != nil {
		return Interaction{}, unavailable(err, "commit")
	}
	return rec, nil
}

func (s *PostgresStore) GetBySessionID(ctx context.Context, sessionID string) (Interaction, error) {
	return scanPgInteraction(s.pool.QueryRow(ctx, `SELECT `+pgInteractionColumns+` FROM interactions WHERE session_id=$1`, sessionID))
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Interaction, error) {
	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		args = append(args, f.From)
		where = append(where, "created_at >= $1")
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		where = append(where, "created_at <= $"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + pgInteractionColumns + ` FROM interactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	q += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err, "list interactions")
	}
	defer rows.Close()
	var out []Interaction
	for rows.Next() {
		rec, err := scanPgInteraction(rows)
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

func (s *PostgresStore) GetProfile(ctx context.Context, phone string) (UserProfile, error) {
	var p UserProfile
	err := s.pool.QueryRow(ctx, `SELECT id::text, phone, preferred_language, village, state, crops,
		total_interactions, created_at, updated_at FROM user_profiles WHERE phone=$1`, phone).
		Scan(&p.ID, &p.Phone, &p.PreferredLanguage, &p.Village, &p.State, &p.Crops, &p.TotalInteractions, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserProfile{}, errors.Wrapf(ErrNotFound, "profile %s", phone)
	}
	if err != nil {
		return UserProfile{}, unavailable(err, "get profile")
	}
	return p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p UserProfile) (UserProfile, error) {
	if p.Crops == nil {
		p.Crops = []string{}
	}
	if p.PreferredLanguage == "" {
		p.PreferredLanguage = "en"
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO user_profiles(id, phone, preferred_language, village, state, crops)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (phone) DO UPDATE SET preferred_language=EXCLUDED.preferred_language, village=EXCLUDED.village,
		state=EXCLUDED.state, crops=EXCLUDED.crops, updated_at=now()`,
		uuid.NewString(), p.Phone, p.PreferredLanguage, p.Village, p.State, p.Crops)
	if err != nil {
		return UserProfile{}, unavailable(err, "upsert profile")
	}
	return s.GetProfile(ctx, p.Phone)
}

func (s *PostgresStore) IncrementInteractions(ctx context.Context, phone string) error {
	_, err := s.pool.Exec(ctx, `UPDATE user_profiles SET total_interactions = total_interactions + 1,
		updated_at = now() WHERE phone=$1`, phone)
	if err != nil {
		return unavailable(err, "increment interactions")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPgInteraction(row pgx.Row) (Interaction, error) {
	var (
		rec    Interaction
		status string
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.UserPhone, &rec.Language, &rec.Transcript, &rec.AnswerText,
		&rec.AnswerAudioURL, &rec.Intent, &rec.Tags, &status, &rec.FailureReason, &rec.AudioDuration,
		&rec.ProcessingTime, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, unavailable(err, "scan interaction")
	}
	rec.Status = Status(status)
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return rec, nil
}

