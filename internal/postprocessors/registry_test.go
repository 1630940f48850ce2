package postprocessors

import (
	"strings"
	"testing"

	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/postprocessors/chunker"
)

// registryMockSplitter is a simple mock for testing registry functionality.
type registryMockSplitter struct {
	sep string
}

func (m *registryMockSplitter) Split(text string) []string {
	return strings.Split(text, m.sep)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if len(r.builders) != 0 {
		t.Errorf("expected empty builders, got %d", len(r.builders))
	}
}

func TestRegistry_Build_Success(t *testing.T) {
	r := NewRegistry()

	r.Register("test", func(cfg map[string]any) (driven.TextSplitter, error) {
		sep := ","
		if s, ok := cfg["sep"].(string); ok {
			sep = s
		}
		return &registryMockSplitter{sep: sep}, nil
	})

	s, err := r.Build("test", map[string]any{"sep": ";"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if got := s.Split("a;b"); len(got) != 2 {
		t.Errorf("expected 2 parts, got %v", got)
	}
}

func TestRegistry_Build_UnknownSplitter(t *testing.T) {
	r := NewRegistry()

	_, err := r.Build("unknown", nil)
	if err == nil {
		t.Error("expected error for unknown splitter")
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)

	names := r.Names()
	if len(names) != 2 || names[0] != "fixed" || names[1] != "paragraph" {
		t.Errorf("expected [fixed paragraph], got %v", names)
	}
	if !r.Has(DefaultSplitter) {
		t.Errorf("expected %q to be registered", DefaultSplitter)
	}
}

func TestBuildParagraph_WithConfig(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)

	words := chunker.CountFunc(func(s string) int { return len(strings.Fields(s)) })
	s, err := r.Build("paragraph", map[string]any{"target_tokens": int64(2), "counter": words})
	if err != nil {
		t.Fatalf("Build paragraph failed: %v", err)
	}

	chunks := s.Split("a b\n\nc d\n\ne")
	if len(chunks) != 3 {
		t.Errorf("expected 3 chunks, got %v", chunks)
	}
}

func TestBuildFixed_WithNilConfig(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)

	s, err := r.Build("fixed", nil)
	if err != nil {
		t.Fatalf("Build fixed with nil config failed: %v", err)
	}
	if got := s.Split("short"); len(got) != 1 {
		t.Errorf("expected a single chunk, got %v", got)
	}
}

func TestGetIntFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      map[string]any
		key      string
		expected int
	}{
		{"int value", map[string]any{"size": 100}, "size", 100},
		{"int64 value", map[string]any{"size": int64(200)}, "size", 200},
		{"float64 value", map[string]any{"size": float64(300)}, "size", 300},
		{"string value", map[string]any{"size": "400"}, "size", 0},
		{"missing key", map[string]any{"other": 100}, "size", 0},
		{"nil config", nil, "size", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getIntFromConfig(tt.cfg, tt.key)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}
