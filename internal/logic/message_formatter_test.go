package logic

import (
	"testing"
)

func TestFormatExamples(t *testing.T) {
	format := ExampleFormat{
		Intro:          "Examples:",
		UserLabel:      "User",
		AssistantLabel: "Bot",
	}

	tests := []struct {
		name     string
		examples []Example
		expected string
	}{
		{
			name:     "no examples",
			examples: nil,
			expected: "",
		},
		{
			name:     "single example",
			examples: []Example{{User: "Hi", Assistant: "Hello! ^_^"}},
			expected: "Examples:\n\nUser: Hi\nBot: Hello! ^_^",
		},
		{
			name: "two examples",
			examples: []Example{
				{User: "Who made you?", Assistant: "A friend."},
				{User: "Can you code?", Assistant: "Yes!"},
			},
			expected: "Examples:\n\nUser: Who made you?\nBot: A friend.\n\nUser: Can you code?\nBot: Yes!",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatExamples(format, tt.examples)
			if result != tt.expected {
				t.Errorf("FormatExamples() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestFormatProfileContext(t *testing.T) {
	labels := ProfileLabels{
		Header:   "User information for context:",
		Username: "Username: %s",
		Bio:      "About: %s",
	}

	tests := []struct {
		name     string
		username string
		bio      string
		expected string
	}{
		{
			name:     "both fields",
			username: "alice",
			bio:      "likes tea",
			expected: "User information for context:\nUsername: alice\nAbout: likes tea",
		},
		{
			name:     "username only",
			username: "alice",
			expected: "User information for context:\nUsername: alice",
		},
		{
			name:     "bio only",
			bio:      "likes tea",
			expected: "User information for context:\nAbout: likes tea",
		},
		{
			name:     "nothing known",
			username: "  ",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatProfileContext(labels, tt.username, tt.bio)
			if result != tt.expected {
				t.Errorf("FormatProfileContext(%q, %q) = %q, want %q", tt.username, tt.bio, result, tt.expected)
			}
		})
	}
}

func TestJoinSections(t *testing.T) {
	result := JoinSections("persona", "", "  ", "examples", "profile")
	expected := "persona\n\nexamples\n\nprofile"
	if result != expected {
		t.Errorf("JoinSections() = %q, want %q", result, expected)
	}
}
