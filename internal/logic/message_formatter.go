package logic

import (
	"fmt"
	"strings"
)

// Example is one few-shot exchange shown to the model as a style reference
type Example struct {
	User      string `yaml:"user"`
	Assistant string `yaml:"assistant"`
}

// ExampleFormat controls how few-shot examples are rendered
type ExampleFormat struct {
	Intro          string
	UserLabel      string
	AssistantLabel string
}

// FormatExamples renders few-shot examples as a transcript:
//
//	{Intro}
//
//	{UserLabel}: {user}
//	{AssistantLabel}: {assistant}
func FormatExamples(format ExampleFormat, examples []Example) string {
	if len(examples) == 0 {
		return ""
	}

	var b strings.Builder
	if format.Intro != "" {
		b.WriteString(format.Intro)
		b.WriteString("\n\n")
	}
	for _, ex := range examples {
		fmt.Fprintf(&b, "%s: %s\n", format.UserLabel, ex.User)
		fmt.Fprintf(&b, "%s: %s\n\n", format.AssistantLabel, ex.Assistant)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ProfileLabels are the localized lines of the profile context block.
// Username and Bio are format strings with a single %s.
type ProfileLabels struct {
	Header   string
	Username string
	Bio      string
}

// FormatProfileContext renders what the user told us about themselves.
// It returns "" when there is nothing to say.
func FormatProfileContext(labels ProfileLabels, username, bio string) string {
	username = strings.TrimSpace(username)
	bio = strings.TrimSpace(bio)
	if username == "" && bio == "" {
		return ""
	}

	lines := []string{labels.Header}
	if username != "" {
		lines = append(lines, fmt.Sprintf(labels.Username, username))
	}
	if bio != "" {
		lines = append(lines, fmt.Sprintf(labels.Bio, bio))
	}
	return strings.Join(lines, "\n")
}

// JoinSections joins the non-empty prompt sections with blank lines
func JoinSections(sections ...string) string {
	var kept []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}
