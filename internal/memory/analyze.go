package memory

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultConfidence is assigned to every pattern match
	DefaultConfidence = 0.8
	// DefaultThreshold is the minimum confidence surfaced to the user
	DefaultThreshold = 0.7

	minCaptureRunes = 2
	maxCaptureRunes = 49
)

// Suggestion is a candidate memory item awaiting the user's decision
type Suggestion struct {
	Content    string     `json:"content"`
	Category   Category   `json:"category"`
	Importance Importance `json:"importance"`
	Confidence float64    `json:"confidence"`
}

type pattern struct {
	re         *regexp.Regexp
	category   Category
	importance Importance
	template   string
}

// patterns run in order: name, age, occupation, preference, location
var patterns = []pattern{
	{regexp.MustCompile(`(?i)(?:меня зовут|мое имя|моё имя|называй меня|зови меня)\s+([\p{L}\d_]+)`), CategoryPersonal, ImportanceHigh, "Имя пользователя: %s"},
	{regexp.MustCompile(`(?i)(?:my name is|call me)\s+([\p{L}\d_]+)`), CategoryPersonal, ImportanceHigh, "Name: %s"},

	{regexp.MustCompile(`(?i)(?:мне|у меня)\s+(\d{1,2})\s+(?:лет|года|год)`), CategoryPersonal, ImportanceMedium, "Возраст: %s лет"},
	{regexp.MustCompile(`(?i)(?:i am|i'm)\s+(\d{1,2})\s+years?\s+old`), CategoryPersonal, ImportanceMedium, "Age: %s"},

	{regexp.MustCompile(`(?i)я\s+(программист|дизайнер|учитель|врач|инженер|студент|школьник|разработчик)`), CategoryPersonal, ImportanceMedium, "Профессия/статус: %s"},
	{regexp.MustCompile(`(?i)(?:я работаю|моя работа)\s+([^.!?,\n]+)`), CategoryPersonal, ImportanceMedium, "Профессия/статус: %s"},
	{regexp.MustCompile(`(?i)(?:i am|i'm)\s+an?\s+(programmer|designer|teacher|doctor|engineer|student|developer)`), CategoryPersonal, ImportanceMedium, "Occupation: %s"},
	{regexp.MustCompile(`(?i)i work as\s+(?:an?\s+)?([^.!?,\n]+)`), CategoryPersonal, ImportanceMedium, "Occupation: %s"},

	{regexp.MustCompile(`(?i)(?:я люблю|мне нравится|я предпочитаю|моё хобби|мое хобби)\s+([^.!?]+)`), CategoryPreference, ImportanceMedium, "Предпочтения: %s"},
	{regexp.MustCompile(`(?i)(?:i love|i like|i prefer|my hobby is)\s+([^.!?]+)`), CategoryPreference, ImportanceMedium, "Preferences: %s"},

	{regexp.MustCompile(`(?i)(?:я из|живу в|нахожусь в)\s+([\p{L}\d\s-]+)`), CategoryPersonal, ImportanceMedium, "Местоположение: %s"},
	{regexp.MustCompile(`(?i)(?:i am from|i'm from|i live in)\s+([\p{L}\d\s-]+)`), CategoryPersonal, ImportanceMedium, "Location: %s"},
}

// Analyze extracts memory suggestions from a user message.
// Results follow pattern order and never repeat a content string.
func Analyze(text string) []Suggestion {
	var out []Suggestion
	seen := make(map[string]bool)

	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			captured := strings.TrimSpace(m[1])
			n := utf8.RuneCountInString(captured)
			if n < minCaptureRunes || n > maxCaptureRunes {
				continue
			}
			content := fmt.Sprintf(p.template, captured)
			if seen[content] {
				continue
			}
			seen[content] = true
			out = append(out, Suggestion{
				Content:    content,
				Category:   p.category,
				Importance: p.importance,
				Confidence: DefaultConfidence,
			})
		}
	}
	return out
}

// Surface keeps the suggestions confident enough to show the user
func Surface(suggestions []Suggestion, threshold float64) []Suggestion {
	var out []Suggestion
	for _, s := range suggestions {
		if s.Confidence >= threshold {
			out = append(out, s)
		}
	}
	return out
}
