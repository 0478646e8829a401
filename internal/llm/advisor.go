// Package llm produces advisory answers for transcribed farmer questions and
// classifies each question into an intent and a set of topic tags.
package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Intents recognised by DetectIntent.
const (
	IntentPestManagement   = "pest_management"
	IntentIrrigation       = "irrigation"
	IntentFertilizer       = "fertilizer"
	IntentWeather          = "weather"
	IntentMarketPrice      = "market_price"
	IntentDiseaseDiagnosis = "disease_diagnosis"
	IntentGeneralAdvisory  = "general_advisory"
)

// Advice is the result of the advisory stage.
type Advice struct {
	Answer string
	Intent string
	Tags   []string
}

// Generator produces the free-text answer for a question.
type Generator interface {
	Generate(ctx context.Context, query, lang string) (string, error)
}

// Advisor pairs a Generator with the keyword classifiers.
type Advisor struct {
	gen Generator
}

func NewAdvisor(gen Generator) *Advisor {
	return &Advisor{gen: gen}
}

func (a *Advisor) Advise(ctx context.Context, query, lang string) (Advice, error) {
	answer, err := a.gen.Generate(ctx, query, lang)
	if err != nil {
		return Advice{}, errors.Wrap(err, "generate answer")
	}
	return Advice{
		Answer: answer,
		Intent: DetectIntent(query),
		Tags:   ExtractTags(query),
	}, nil
}

type keywordRule struct {
	label    string
	keywords []string
}

// order matters: the first matching intent wins
var intentRules = []keywordRule{
	{IntentPestManagement, []string{"कीट", "pest", "చీడ", "insect", "bug"}},
	{IntentIrrigation, []string{"पानी", "water", "నీరు", "irrigation", "सिंचाई"}},
	{IntentFertilizer, []string{"खाद", "fertilizer", "ఎరువు", "उर्वरक", "खत"}},
	{IntentWeather, []string{"मौसम", "weather", "వాతావరణం", "बारिश", "rain"}},
	{IntentMarketPrice, []string{"कीमत", "price", "ధర", "market", "बाजार"}},
	{IntentDiseaseDiagnosis, []string{"रोग", "disease", "వ్యాధి", "बीमारी"}},
}

var cropRules = []keywordRule{
	{"wheat", []string{"wheat", "गेहूं", "గోధుమ"}},
	{"rice", []string{"rice", "धान", "వరి"}},
	{"maize", []string{"maize", "corn", "मक्का", "మొక్కజొన్న"}},
	{"cotton", []string{"cotton", "कपास", "పత్తి"}},
	{"tomato", []string{"tomato", "टमाटर", "టమోటా"}},
	{"potato", []string{"potato", "आलू", "బంగాళదుంప"}},
}

var issueRules = []keywordRule{
	{"pest", []string{"pest", "कीट", "చీడ", "insect"}},
	{"disease", []string{"disease", "रोग", "వ్యాధి"}},
	{"irrigation", []string{"water", "पानी", "నీరు", "irrigation"}},
	{"fertilizer", []string{"fertilizer", "खाद", "ఎరువు"}},
	{"weather", []string{"weather", "मौसम", "వాతావరణం"}},
}

func (r keywordRule) matches(text string) bool {
	for _, k := range r.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// DetectIntent maps a question onto one of the Intent constants by keyword.
func DetectIntent(text string) string {
	lower := strings.ToLower(text)
	for _, r := range intentRules {
		if r.matches(lower) {
			return r.label
		}
	}
	return IntentGeneralAdvisory
}

// ExtractTags returns crop tags followed by issue tags found in text.
func ExtractTags(text string) []string {
	lower := strings.ToLower(text)
	tags := []string{}
	for _, rules := range [][]keywordRule{cropRules, issueRules} {
		for _, r := range rules {
			if r.matches(lower) {
				tags = append(tags, r.label)
			}
		}
	}
	return tags
}
