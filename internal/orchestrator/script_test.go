package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultScriptIsValid(t *testing.T) {
	t.Parallel()

	s, err := LoadScript("")
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	if len(s.Greetings) != 3 {
		t.Fatalf("expected 3 greetings, got %d", len(s.Greetings))
	}
	for _, marker := range []string{"$DATETIME$", "$USER_ID$", "$PREFERENCES$", "$THEME_CONTENT$", "$PAST_CHATS_TEXT$"} {
		if !strings.Contains(s.InformationTemplate, marker) {
			t.Errorf("template missing %s", marker)
		}
	}
}

func TestLoadScriptRejectsIncompleteFiles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"two greetings", "greetings: [a, b]\nquest_created: q\nquest_failed: f\nclosing: c\ninformation_template: t\n"},
		{"empty greeting", "greetings: [a, '', c]\nquest_created: q\nquest_failed: f\nclosing: c\ninformation_template: t\n"},
		{"missing closing", "greetings: [a, b, c]\nquest_created: q\nquest_failed: f\ninformation_template: t\n"},
		{"missing template", "greetings: [a, b, c]\nquest_created: q\nquest_failed: f\nclosing: c\n"},
		{"not yaml", "greetings: [a, b"},
	}

	dir := t.TempDir()
	for i, tt := range tests {
		path := filepath.Join(dir, tt.name+".yaml")
		if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
			t.Fatalf("write case %d: %v", i, err)
		}
		if _, err := LoadScript(path); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}

	if _, err := LoadScript(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadScriptCustomFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "script.yaml")
	body := "greetings: [one, two, three]\nquest_created: q\nquest_failed: f\nclosing: bye\ninformation_template: \"at $DATETIME$\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	if s.Closing != "bye" || s.Greetings[2] != "three" {
		t.Fatalf("unexpected script %+v", s)
	}
}
