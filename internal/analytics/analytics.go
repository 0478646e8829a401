// Package analytics aggregates stored interactions for reporting.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/language"
)

const (
	// ScanLimit caps how many records one aggregation reads, and how many
	// rows a caller may ask for.
	ScanLimit = 10000
	// MaxDailyWindow is the longest day range DailyInteractions reports.
	MaxDailyWindow = 366
)

// ErrOutOfRange reports a limit or window above the allowed maximum.
var ErrOutOfRange = errors.New("value out of range")

type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

type LanguageShare struct {
	Language   string `json:"language"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

type Service struct {
	store interaction.Store
	now   func() time.Time
}

func NewService(store interaction.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Interactions returns records created in [from, to], newest first. Zero bounds are open.
func (s *Service) Interactions(ctx context.Context, from, to time.Time, limit int) ([]interaction.Interaction, error) {
	if limit > ScanLimit {
		return nil, errors.Wrapf(ErrOutOfRange, "limit %d above %d", limit, ScanLimit)
	}
	recs, err := s.store.List(ctx, interaction.Filter{From: from, To: to, Limit: limit})
	if err != nil {
		return nil, errors.Wrap(err, "list interactions")
	}
	if recs == nil {
		recs = []interaction.Interaction{}
	}
	return recs, nil
}

// TopQueries ranks intents by how often they were asked.
func (s *Service) TopQueries(ctx context.Context, limit int) ([]QueryCount, error) {
	if limit > ScanLimit {
		return nil, errors.Wrapf(ErrOutOfRange, "limit %d above %d", limit, ScanLimit)
	}
	if limit <= 0 {
		limit = 10
	}
	counts, err := s.intentCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]QueryCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, QueryCount{Query: c.Intent, Count: c.Count})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Service) IntentDistribution(ctx context.Context) ([]IntentCount, error) {
	return s.intentCounts(ctx)
}

func (s *Service) intentCounts(ctx context.Context) ([]IntentCount, error) {
	recs, err := s.all(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, r := range recs {
		if r.Intent == "" {
			continue
		}
		counts[r.Intent]++
	}
	out := make([]IntentCount, 0, len(counts))
	for intent, n := range counts {
		out = append(out, IntentCount{Intent: intent, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Intent < out[j].Intent
	})
	return out, nil
}

// LanguageDistribution reports each language's share of all interactions,
// using display names and whole-number percentages.
func (s *Service) LanguageDistribution(ctx context.Context) ([]LanguageShare, error) {
	recs, err := s.all(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, r := range recs {
		code := r.Language
		if code == "" {
			code = "unknown"
		}
		counts[code]++
	}
	total := len(recs)
	if total == 0 {
		total = 1
	}
	out := make([]LanguageShare, 0, len(counts))
	for code, n := range counts {
		out = append(out, LanguageShare{
			Language:   language.Name(code),
			Count:      n,
			Percentage: int(math.Round(float64(n) / float64(total) * 100)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Language < out[j].Language
	})
	return out, nil
}

// DailyInteractions counts interactions per UTC day for the last days days,
// oldest first, including days with no traffic.
func (s *Service) DailyInteractions(ctx context.Context, days int) ([]DailyCount, error) {
	if days > MaxDailyWindow {
		return nil, errors.Wrapf(ErrOutOfRange, "days %d above %d", days, MaxDailyWindow)
	}
	if days <= 0 {
		days = 7
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	recs, err := s.all(ctx, start)
	if err != nil {
		return nil, err
	}

	out := make([]DailyCount, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i).Format(time.DateOnly)
		out[i] = DailyCount{Date: d}
		index[d] = i
	}
	for _, r := range recs {
		if i, ok := index[r.CreatedAt.UTC().Format(time.DateOnly)]; ok {
			out[i].Count++
		}
	}
	return out, nil
}

func (s *Service) all(ctx context.Context, from time.Time) ([]interaction.Interaction, error) {
	recs, err := s.store.List(ctx, interaction.Filter{From: from, Limit: ScanLimit})
	if err != nil {
		return nil, errors.Wrap(err, "list interactions")
	}
	return recs, nil
}
