package orchestrator

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed script.yaml
var defaultScriptYAML []byte

// greetingCount is the number of scripted greetings before the agent session is bound.
const greetingCount = 3

// Script holds the user-visible texts of the onboarding pipeline and the
// template used to splice remembered context into a message.
type Script struct {
	Greetings           []string `yaml:"greetings"`
	QuestCreated        string   `yaml:"quest_created"`
	QuestFailed         string   `yaml:"quest_failed"`
	Closing             string   `yaml:"closing"`
	InformationTemplate string   `yaml:"information_template"`
}

// DefaultScript returns the embedded script.
func DefaultScript() (*Script, error) {
	return parseScript(defaultScriptYAML)
}

// LoadScript reads a script from path, falling back to the embedded one when path is empty.
func LoadScript(path string) (*Script, error) {
	if path == "" {
		return DefaultScript()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read onboarding script: %w", err)
	}
	return parseScript(data)
}

func parseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse onboarding script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every step of the pipeline has a text.
func (s *Script) Validate() error {
	if len(s.Greetings) != greetingCount {
		return fmt.Errorf("onboarding script needs %d greetings, got %d", greetingCount, len(s.Greetings))
	}
	for i, g := range s.Greetings {
		if g == "" {
			return fmt.Errorf("onboarding greeting %d is empty", i+1)
		}
	}
	if s.QuestCreated == "" || s.QuestFailed == "" || s.Closing == "" {
		return errors.New("onboarding script is missing quest or closing texts")
	}
	if s.InformationTemplate == "" {
		return errors.New("onboarding script is missing the information template")
	}
	return nil
}
