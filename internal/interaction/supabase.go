package interaction

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

const (
	interactionsTable = "interactions"
	profilesTable     = "user_profiles"
)

// SupabaseStore persists interactions through the Supabase PostgREST API.
// The tables come from the goose migrations; apply them with `agrivoice migrate`.
// Tables created without failure_reason still accept failed writes, the reason
// is then only logged.
type SupabaseStore struct {
	client *supabase.Client
	now    func() time.Time
}

func NewSupabaseStore(url, serviceKey string) (*SupabaseStore, error) {
	if url == "" || serviceKey == "" {
		return nil, errors.New("missing Supabase configuration: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "create supabase client")
	}
	return &SupabaseStore{client: client, now: time.Now}, nil
}

func (s *SupabaseStore) Create(_ context.Context, rec Interaction) (Interaction, error) {
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	rec.ID = uuid.NewString()
	row := map[string]any{
		"id":             rec.ID,
		"session_id":     rec.SessionID,
		"language":       rec.Language,
		"status":         rec.Status,
		"tags":           rec.Tags,
		"audio_duration": rec.AudioDuration,
		"created_at":     rec.CreatedAt,
		"updated_at":     now,
	}
	if rec.UserPhone != "" {
		row["user_phone"] = rec.UserPhone
	}
	var rows []Interaction
	if _, err := s.client.From(interactionsTable).Insert(row, false, "", "representation", "").ExecuteTo(&rows); err != nil {
		return Interaction{}, unavailable(err, "insert interaction")
	}
	if len(rows) == 0 {
		return Interaction{}, unavailable(errors.New("empty insert response"), "insert interaction")
	}
	return rows[0], nil
}

func (s *SupabaseStore) Update(ctx context.Context, id string, p Patch) (Interaction, error) {
	cur, err := s.one(s.client.From(interactionsTable).Select("*", "", false).Eq("id", id))
	if err != nil {
		return Interaction{}, err
	}
	next := clone(cur)
	if err := p.Apply(&next, s.now()); err != nil {
		return Interaction{}, err
	}

	row := map[string]any{"updated_at": next.UpdatedAt}
	if p.Language != nil {
		row["language"] = next.Language
	}
	if p.Transcript != nil {
		row["transcript"] = next.Transcript
	}
	if p.AnswerText != nil {
		row["answer_text"] = next.AnswerText
	}
	if p.AnswerAudioURL != nil {
		row["answer_audio_url"] = next.AnswerAudioURL
	}
	if p.Intent != nil {
		row["intent"] = next.Intent
	}
	if p.Tags != nil {
		row["tags"] = next.Tags
	}
	if p.FailureReason != nil {
		row["failure_reason"] = next.FailureReason
	}
	if p.ProcessingTime != nil {
		row["processing_time"] = next.ProcessingTime
	}
	if p.Status != nil {
		row["status"] = next.Status
	}

	rows, err := s.guardedUpdate(id, row)
	if err != nil && missingColumn(err, "failure_reason") {
		log.Warn().Str("session_id", cur.SessionID).Str("reason", next.FailureReason).
			Msg("interactions table has no failure_reason column, writing status without it")
		delete(row, "failure_reason")
		rows, err = s.guardedUpdate(id, row)
	}
	if err != nil {
		return Interaction{}, unavailable(err, "update interaction")
	}
	if len(rows) == 0 {
		return Interaction{}, errors.Wrapf(ErrTerminal, "session %s", cur.SessionID)
	}
	return rows[0], nil
}

// guardedUpdate only matches rows still processing, so a terminal row is never
// rewritten by a racing writer.
func (s *SupabaseStore) guardedUpdate(id string, row map[string]any) ([]Interaction, error) {
	var rows []Interaction
	_, err := s.client.From(interactionsTable).
		Update(row, "representation", "").
		Eq("id", id).
		Eq("status", string(StatusProcessing)).
		ExecuteTo(&rows)
	return rows, err
}

// missingColumn matches PostgREST's PGRST204 schema cache error for column.
func missingColumn(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "PGRST204") && strings.Contains(msg, "'"+column+"'")
}

func (s *SupabaseStore) GetBySessionID(_ context.Context, sessionID string) (Interaction, error) {
	return s.one(s.client.From(interactionsTable).Select("*", "", false).Eq("session_id", sessionID))
}

func (s *SupabaseStore) one(q *postgrest.FilterBuilder) (Interaction, error) {
	var rows []Interaction
	if _, err := q.Limit(1, "").ExecuteTo(&rows); err != nil {
		return Interaction{}, unavailable(err, "get interaction")
	}
	if len(rows) == 0 {
		return Interaction{}, ErrNotFound
	}
	if rows[0].Tags == nil {
		rows[0].Tags = []string{}
	}
	return rows[0], nil
}

func (s *SupabaseStore) List(_ context.Context, f Filter) ([]Interaction, error) {
	q := s.client.From(interactionsTable).Select("*", "", false)
	if !f.From.IsZero() {
		q = q.Gte("created_at", f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		q = q.Lte("created_at", f.To.UTC().Format(time.RFC3339Nano))
	}
	var rows []Interaction
	_, err := q.Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(f.limit(), "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, unavailable(err, "list interactions")
	}
	return rows, nil
}

func (s *SupabaseStore) GetProfile(_ context.Context, phone string) (UserProfile, error) {
	var rows []UserProfile
	_, err := s.client.From(profilesTable).Select("*", "", false).Eq("phone", phone).Limit(1, "").ExecuteTo(&rows)
	if err != nil {
		return UserProfile{}, unavailable(err, "get profile")
	}
	if len(rows) == 0 {
		return UserProfile{}, errors.Wrapf(ErrNotFound, "profile %s", phone)
	}
	return rows[0], nil
}

func (s *SupabaseStore) UpsertProfile(ctx context.Context, p UserProfile) (UserProfile, error) {
	if p.Crops == nil {
		p.Crops = []string{}
	}
	row := map[string]any{
		"phone":              p.Phone,
		"preferred_language": p.PreferredLanguage,
		"village":            p.Village,
		"state":              p.State,
		"crops":              p.Crops,
		"updated_at":         s.now().UTC(),
	}
	_, err := s.GetProfile(ctx, p.Phone)
	var rows []UserProfile
	switch {
	case err == nil:
		_, err = s.client.From(profilesTable).Update(row, "representation", "").Eq("phone", p.Phone).ExecuteTo(&rows)
	case errors.Is(err, ErrNotFound):
		_, err = s.client.From(profilesTable).Insert(row, false, "", "representation", "").ExecuteTo(&rows)
	default:
		return UserProfile{}, err
	}
	if err != nil {
		return UserProfile{}, unavailable(err, "upsert profile")
	}
	if len(rows) == 0 {
		return UserProfile{}, unavailable(errors.New("empty upsert response"), "upsert profile")
	}
	return rows[0], nil
}

// IncrementInteractions is a read-then-write; PostgREST has no atomic increment without an RPC.
func (s *SupabaseStore) IncrementInteractions(ctx context.Context, phone string) error {
	p, err := s.GetProfile(ctx, phone)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	row := map[string]any{
		"total_interactions": p.TotalInteractions + 1,
		"updated_at":         s.now().UTC(),
	}
	if _, _, err := s.client.From(profilesTable).Update(row, "minimal", "").Eq("phone", phone).Execute(); err != nil {
		return unavailable(err, "increment interactions")
	}
	return nil
}

func (s *SupabaseStore) Close() error { return nil }
