package interaction

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePostgREST serves the slice of the PostgREST API the store uses:
// inserts, eq-filtered selects and eq-filtered patches on /rest/v1/interactions.
type fakePostgREST struct {
	mu      sync.Mutex
	rows    []map[string]any
	columns map[string]bool // nil accepts any column
	patches []string        // raw query of every PATCH
	onPatch func(f *fakePostgREST)
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/rest/v1/interactions" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var row map[string]any
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			f.fail(w, "PGRST102", "invalid body")
			return
		}
		if col := f.unknownColumn(row); col != "" {
			f.missing(w, col)
			return
		}
		if row["id"] == nil {
			f.fail(w, "23502", `null value in column "id" violates not-null constraint`)
			return
		}
		f.rows = append(f.rows, row)
		f.reply(w, http.StatusCreated, []map[string]any{row})
	case http.MethodGet:
		f.reply(w, http.StatusOK, f.match(r))
	case http.MethodPatch:
		f.patches = append(f.patches, r.URL.RawQuery)
		if f.onPatch != nil {
			f.onPatch(f)
		}
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			f.fail(w, "PGRST102", "invalid body")
			return
		}
		if col := f.unknownColumn(patch); col != "" {
			f.missing(w, col)
			return
		}
		matched := f.match(r)
		for _, row := range matched {
			for k, v := range patch {
				row[k] = v
			}
		}
		f.reply(w, http.StatusOK, matched)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakePostgREST) match(r *http.Request) []map[string]any {
	out := []map[string]any{}
	for _, row := range f.rows {
		ok := true
		for col, vals := range r.URL.Query() {
			if !strings.HasPrefix(vals[0], "eq.") {
				continue
			}
			if fmt.Sprint(row[col]) != strings.TrimPrefix(vals[0], "eq.") {
				ok = false
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}

func (f *fakePostgREST) unknownColumn(row map[string]any) string {
	if f.columns == nil {
		return ""
	}
	for col := range row {
		if !f.columns[col] {
			return col
		}
	}
	return ""
}

func (f *fakePostgREST) missing(w http.ResponseWriter, col string) {
	f.fail(w, "PGRST204", fmt.Sprintf("Could not find the '%s' column of 'interactions' in the schema cache", col))
}

func (f *fakePostgREST) fail(w http.ResponseWriter, code, msg string) {
	f.reply(w, http.StatusBadRequest, map[string]string{"code": code, "message": msg})
}

func (f *fakePostgREST) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newSupabaseFake(t *testing.T, fake *fakePostgREST) *SupabaseStore {
	t.Helper()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	s, err := NewSupabaseStore(ts.URL, "service-key")
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestSupabaseStore_CreateAssignsID(t *testing.T) {
	fake := &fakePostgREST{}
	s := newSupabaseFake(t, fake)
	ctx := t.Context()

	rec, err := s.Create(ctx, Interaction{SessionID: "sess-1", Language: "hi", Status: StatusProcessing})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Equal(t, []string{}, rec.Tags)

	got, err := s.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestSupabaseStore_GetUnknownSession(t *testing.T) {
	s := newSupabaseFake(t, &fakePostgREST{})
	_, err := s.GetBySessionID(t.Context(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSupabaseStore_UpdateIsGuardedByStatus(t *testing.T) {
	fake := &fakePostgREST{}
	s := newSupabaseFake(t, fake)
	ctx := t.Context()

	rec, err := s.Create(ctx, Interaction{SessionID: "sess-1", Language: "en", Status: StatusProcessing})
	require.NoError(t, err)

	rec, err = s.Update(ctx, rec.ID, Patch{Transcript: String("when to sow wheat")})
	require.NoError(t, err)
	assert.Equal(t, "when to sow wheat", rec.Transcript)
	require.Len(t, fake.patches, 1)
	assert.Contains(t, fake.patches[0], "status=eq.processing")
	assert.Contains(t, fake.patches[0], "id=eq."+rec.ID)

	// another writer finishes the row between the read and the patch
	fake.onPatch = func(f *fakePostgREST) { f.rows[0]["status"] = string(StatusCompleted) }
	_, err = s.Update(ctx, rec.ID, Patch{Status: StatusPtr(StatusFailed), FailureReason: String("late")})
	assert.True(t, errors.Is(err, ErrTerminal))
	assert.Equal(t, string(StatusCompleted), fake.rows[0]["status"])
	assert.Nil(t, fake.rows[0]["failure_reason"])
}

func TestSupabaseStore_FailedWriteWithoutFailureReasonColumn(t *testing.T) {
	fake := &fakePostgREST{columns: map[string]bool{
		"id": true, "session_id": true, "user_phone": true, "language": true, "transcript": true,
		"answer_text": true, "answer_audio_url": true, "intent": true, "tags": true, "status": true,
		"audio_duration": true, "processing_time": true, "created_at": true, "updated_at": true,
	}}
	s := newSupabaseFake(t, fake)
	ctx := t.Context()

	rec, err := s.Create(ctx, Interaction{SessionID: "sess-1", Language: "te", Status: StatusProcessing})
	require.NoError(t, err)

	d := 1200 * time.Millisecond
	rec, err = s.Update(ctx, rec.ID, Patch{
		Status:         StatusPtr(StatusFailed),
		FailureReason:  String("transcription failed"),
		ProcessingTime: &d,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Len(t, fake.patches, 2)

	got, err := s.GetBySessionID(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, int64(1200), got.ProcessingTime)
}

func TestSupabaseStore_BackendErrorsAreUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"XX000","message":"boom"}`))
	}))
	t.Cleanup(ts.Close)
	s, err := NewSupabaseStore(ts.URL, "service-key")
	require.NoError(t, err)

	_, err = s.GetBySessionID(t.Context(), "sess-1")
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.Contains(t, err.Error(), "boom")
}
