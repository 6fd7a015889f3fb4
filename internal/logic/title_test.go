package logic

import "testing"

func TestProvisionalTitle(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "short message kept",
			content:  "Hello",
			expected: "Hello",
		},
		{
			name:     "exactly thirty characters",
			content:  "123456789012345678901234567890",
			expected: "123456789012345678901234567890",
		},
		{
			name:     "long message truncated",
			content:  "This message is definitely longer than thirty characters",
			expected: "This message is definitely lon...",
		},
		{
			name:     "multibyte characters counted once",
			content:  "Привет, как у тебя дела сегодня вечером?",
			expected: "Привет, как у тебя дела сегодн...",
		},
		{
			name:     "empty",
			content:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ProvisionalTitle(tt.content)
			if result != tt.expected {
				t.Errorf("ProvisionalTitle(%q) = %q, want %q", tt.content, result, tt.expected)
			}
		})
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{`"Weekend Trip Plans"`, "Weekend Trip Plans"},
		{"'Quick Question'", "Quick Question"},
		{"  «Планы на выходные»  ", "Планы на выходные"},
		{"No Quotes Here", "No Quotes Here"},
		{`""`, ""},
	}

	for _, tt := range tests {
		result := CleanTitle(tt.raw)
		if result != tt.expected {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.raw, result, tt.expected)
		}
	}
}
