package assistant

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"senteros-chat/internal/logic"
)

//go:embed persona_default.yaml
var defaultPersonaYAML []byte

// Persona is the fixed style prompt sent ahead of every conversation
type Persona struct {
	SystemPrompt   string          `yaml:"system_prompt"`
	ExampleIntro   string          `yaml:"example_intro"`
	UserLabel      string          `yaml:"user_label"`
	AssistantLabel string          `yaml:"assistant_label"`
	Examples       []logic.Example `yaml:"examples"`
}

// DefaultPersona returns the built-in persona
func DefaultPersona() *Persona {
	p, err := ParsePersona(defaultPersonaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded persona: %v", err))
	}
	return p
}

// ParsePersona decodes a persona document
func ParsePersona(data []byte) (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.SystemPrompt == "" {
		return nil, fmt.Errorf("persona: system_prompt is required")
	}
	if p.UserLabel == "" {
		p.UserLabel = "User"
	}
	if p.AssistantLabel == "" {
		p.AssistantLabel = "Assistant"
	}
	return &p, nil
}

// LoadPersona reads a persona file
func LoadPersona(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePersona(data)
}

// Prompt renders the persona and its few-shot examples as one block
func (p *Persona) Prompt() string {
	return logic.JoinSections(
		p.SystemPrompt,
		logic.FormatExamples(logic.ExampleFormat{
			Intro:          p.ExampleIntro,
			UserLabel:      p.UserLabel,
			AssistantLabel: p.AssistantLabel,
		}, p.Examples),
	)
}
