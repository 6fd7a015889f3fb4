// Package voice prepares text for client-side speech synthesis and manages
// server-side capture of uploaded audio.
package voice

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Utterance is text ready to be spoken in a given voice language
type Utterance struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// regional defaults for bare language codes
var voiceRegions = map[string]string{
	"ru": "RU",
	"en": "US",
	"es": "ES",
	"fr": "FR",
	"de": "DE",
	"it": "IT",
	"pt": "BR",
	"zh": "CN",
	"ja": "JP",
	"ar": "SA",
	"hi": "IN",
}

// VoiceTag maps a locale to a BCP-47 voice tag. Unknown locales speak ru-RU.
func VoiceTag(loc string) string {
	tag, err := language.Parse(strings.TrimSpace(loc))
	if err != nil || tag == language.Und {
		return "ru-RU"
	}
	base, _ := tag.Base()
	if region, conf := tag.Region(); conf == language.Exact {
		return base.String() + "-" + region.String()
	}
	if region, ok := voiceRegions[base.String()]; ok {
		return base.String() + "-" + region
	}
	if region, conf := tag.Region(); conf != language.No {
		return base.String() + "-" + region.String()
	}
	return base.String()
}

// PrepareSpeech strips emoji and keeps letters, numbers, punctuation and
// spaces. An utterance with empty Text should not be spoken.
func PrepareSpeech(text, loc string) Utterance {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case isEmoji(r):
		case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsPunct(r):
			b.WriteRune(r)
		case unicode.In(r, unicode.Zs):
			b.WriteRune(r)
		case r == '\n' || r == '\t':
			b.WriteRune(' ')
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	return Utterance{Text: cleaned, Lang: VoiceTag(loc)}
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	}
	return false
}
