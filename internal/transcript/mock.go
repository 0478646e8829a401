package transcript

import (
	"context"
	"time"

	"github.com/amruthjakku/AgriVoice/internal/language"
)

var mockTranscripts = map[language.Code]string{
	language.Hindi:   "मेरी फसल में कीट लग गए हैं। क्या करूं?",
	language.Telugu:  "నా పంటలో చీడలు వచ్చాయి. నేను ఏమి చేయాలి?",
	language.English: "My crops have pests. What should I do?",
}

// MockTranscriber answers every recording with a canned farmer question.
type MockTranscriber struct {
	Latency time.Duration
}

func (m MockTranscriber) Transcribe(ctx context.Context, _ []byte, lang string) (string, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	return language.Pick(mockTranscripts, lang), nil
}

// DetectLanguage always hears Hindi.
func (m MockTranscriber) DetectLanguage(context.Context, []byte) (string, error) {
	return language.Hindi, nil
}
