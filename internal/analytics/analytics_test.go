package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amruthjakku/AgriVoice/internal/interaction"
)

var now = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *Service {
	t.Helper()
	store := interaction.NewMemoryStore()
	ctx := context.Background()
	n := 0
	add := func(lang, intent string, age time.Duration) {
		n++
		_, err := store.Create(ctx, interaction.Interaction{
			SessionID: fmt.Sprintf("s-%d", n),
			Language:  lang,
			Intent:    intent,
			Status:    interaction.StatusCompleted,
			CreatedAt: now.Add(-age),
		})
		require.NoError(t, err)
	}
	add("hi", "pest_management", 1*time.Hour)
	add("hi", "pest_management", 2*time.Hour)
	add("te", "irrigation", 26*time.Hour)
	add("en", "weather", 50*time.Hour)
	add("hi", "", 3*time.Hour)
	add("xx", "irrigation", 10*24*time.Hour)

	s := NewService(store)
	s.now = func() time.Time { return now }
	return s
}

func TestTopQueries(t *testing.T) {
	s := seeded(t)
	top, err := s.TopQueries(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []QueryCount{{"irrigation", 2}, {"pest_management", 2}}, top)
}

func TestIntentDistribution(t *testing.T) {
	s := seeded(t)
	dist, err := s.IntentDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []IntentCount{{"irrigation", 2}, {"pest_management", 2}, {"weather", 1}}, dist)
}

func TestLanguageDistribution(t *testing.T) {
	s := seeded(t)
	dist, err := s.LanguageDistribution(context.Background())
	require.NoError(t, err)
	require.Len(t, dist, 4)
	assert.Equal(t, LanguageShare{Language: "Hindi", Count: 3, Percentage: 50}, dist[0])
	assert.Equal(t, "English", dist[1].Language)
	assert.Equal(t, 17, dist[1].Percentage)
	assert.Equal(t, "xx", dist[3].Language)
}

func TestLanguageDistribution_Empty(t *testing.T) {
	s := NewService(interaction.NewMemoryStore())
	dist, err := s.LanguageDistribution(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dist)
}

func TestDailyInteractions_ZeroFilled(t *testing.T) {
	s := seeded(t)
	daily, err := s.DailyInteractions(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []DailyCount{
		{Date: "2025-03-07", Count: 0},
		{Date: "2025-03-08", Count: 1},
		{Date: "2025-03-09", Count: 1},
		{Date: "2025-03-10", Count: 3},
	}, daily)
}

func TestInteractions_Window(t *testing.T) {
	s := seeded(t)
	recs, err := s.Interactions(context.Background(), now.Add(-30*time.Hour), now, 0)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, now.Add(-time.Hour), recs[0].CreatedAt)
}

func TestWindowLimits(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	_, err := s.DailyInteractions(ctx, MaxDailyWindow+1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = s.TopQueries(ctx, ScanLimit+1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = s.Interactions(ctx, time.Time{}, time.Time{}, ScanLimit+1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	daily, err := s.DailyInteractions(ctx, MaxDailyWindow)
	require.NoError(t, err)
	assert.Len(t, daily, MaxDailyWindow)
}
