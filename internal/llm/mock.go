package llm

import (
	"context"
	"time"

	"github.com/amruthjakku/AgriVoice/internal/language"
)

var mockAnswers = map[language.Code]string{
	language.Hindi:   "आपकी फसल में कीट की समस्या है। पहले, कीट का प्रकार पहचानें। नीम के तेल का छिड़काव करें (10 मिली प्रति लीटर पानी)। यदि समस्या बनी रहे, तो स्थानीय कृषि अधिकारी से संपर्क करें। फसल की नियमित निगरानी रखें।",
	language.Telugu:  "మీ పంటలో చీడల సమస్య ఉంది. మొదట, చీడ రకాన్ని గుర్తించండి. వేప నూనె స్ప్రే చేయండి (లీటరుకు 10 మిల్లీ). సమస్య కొనసాగితే, స్థానిక వ్యవసాయ అధికారిని సంప్రదించండి. పంటను క్రమం తప్పకుండా పర్యవేక్షించండి.",
	language.English: "Your crops have a pest problem. First, identify the type of pest. Spray neem oil (10ml per liter of water). If the problem persists, contact your local agriculture officer. Monitor your crops regularly.",
}

// MockGenerator returns a canned pest-management answer per language.
type MockGenerator struct {
	Latency time.Duration
}

func (m MockGenerator) Generate(ctx context.Context, _ string, lang string) (string, error) {
	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Latency):
		}
	}
	return language.Pick(mockAnswers, lang), nil
}
