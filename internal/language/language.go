// Package language holds the fixed set of languages AgriVoice answers in.
package language

import "strings"

// Code is a short ISO 639-1 language code.
type Code = string

const (
	Hindi   Code = "hi"
	Telugu  Code = "te"
	English Code = "en"

	// Default is used by ports when they receive a code they do not know.
	Default = English

	// Auto asks the pipeline to detect the spoken language before transcribing.
	Auto Code = "auto"
)

// Info describes how a supported language is handled by the ports.
type Info struct {
	Code Code
	Name string
	// ElevenLabsVoice is the voice id used for synthesized answers.
	ElevenLabsVoice string
}

var supported = map[Code]Info{
	Hindi:   {Code: Hindi, Name: "Hindi", ElevenLabsVoice: "pNInz6obpgDQGcFmaJgB"},
	Telugu:  {Code: Telugu, Name: "Telugu", ElevenLabsVoice: "yoZ06aMxZJJ28mfd3POQ"},
	English: {Code: English, Name: "English", ElevenLabsVoice: "EXAVITQu4vr4xnSDxMaL"},
}

// Normalize lowercases and trims a code.
func Normalize(code string) Code {
	return strings.ToLower(strings.TrimSpace(code))
}

// Supported reports whether code is one of the supported languages.
func Supported(code string) bool {
	_, ok := supported[Normalize(code)]
	return ok
}

// Parse maps a code or an English language name ("Hindi", "telugu") onto a
// supported code.
func Parse(s string) (Code, bool) {
	v := Normalize(s)
	for code, info := range supported {
		if v == code || v == strings.ToLower(info.Name) {
			return code, true
		}
	}
	return "", false
}

// Lookup returns the info for code, falling back to Default for unknown codes.
func Lookup(code string) Info {
	if info, ok := supported[Normalize(code)]; ok {
		return info
	}
	return supported[Default]
}

// Name returns the display name for code, or the code itself when unknown.
func Name(code string) string {
	if info, ok := supported[Normalize(code)]; ok {
		return info.Name
	}
	return code
}

// Codes returns the supported codes in a stable order.
func Codes() []Code {
	return []Code{Hindi, Telugu, English}
}

// Pick returns m[code], falling back to m[Default].
func Pick(m map[Code]string, code string) string {
	if v, ok := m[Normalize(code)]; ok {
		return v
	}
	return m[Default]
}
