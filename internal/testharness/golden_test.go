package testharness

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeTestName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"TestSimple", "TestSimple"},
		{"Test/WithSlash", "Test_WithSlash"},
		{"Test With Spaces", "Test_With_Spaces"},
		{"Test:WithColon", "Test_WithColon"},
		{"Complex:Test/Name Here", "Complex_Test_Name_Here"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if result := sanitizeTestName(tt.input); result != tt.expected {
				t.Errorf("sanitizeTestName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		wantDiff bool
	}{
		{"identical strings", "line1\nline2\nline3", "line1\nline2\nline3", false},
		{"different lines", "line1\nold\nline3", "line1\nnew\nline3", true},
		{"extra line in actual", "line1\nline2", "line1\nline2\nline3", true},
		{"empty strings", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := diff(tt.expected, tt.actual)
			if tt.wantDiff && result == "" {
				t.Error("expected diff output but got empty string")
			}
			if !tt.wantDiff && result != "" {
				t.Errorf("expected no diff but got: %s", result)
			}
		})
	}
}

func TestGoldenPath(t *testing.T) {
	g := &Golden{dir: "testdata/golden", name: "TestExample"}

	tests := []struct {
		suffix   string
		expected string
	}{
		{"", "testdata/golden/TestExample.golden"},
		{"suffix", "testdata/golden/TestExample_suffix.golden"},
	}

	for _, tt := range tests {
		t.Run(tt.suffix, func(t *testing.T) {
			if result := g.goldenPath(tt.suffix); result != tt.expected {
				t.Errorf("goldenPath(%q) = %q, want %q", tt.suffix, result, tt.expected)
			}
		})
	}
}

func TestNewGolden(t *testing.T) {
	g := NewGolden(t)
	if g == nil || g.t != t || g.dir == "" || g.name == "" {
		t.Fatal("NewGolden did not populate a usable Golden")
	}
}

func TestNewGoldenAt(t *testing.T) {
	tmpDir := t.TempDir()
	customDir := filepath.Join(tmpDir, "custom", "golden")

	g := NewGoldenAt(t, customDir)
	if g == nil || g.dir != customDir {
		t.Fatalf("NewGoldenAt dir = %q, want %q", g.dir, customDir)
	}
	if _, err := os.Stat(customDir); os.IsNotExist(err) {
		t.Error("custom golden directory was not created")
	}
}

func TestInitGoldenFlag(t *testing.T) {
	origValue := UpdateGolden
	t.Cleanup(func() { UpdateGolden = origValue })

	os.Unsetenv("UPDATE_GOLDEN")
	UpdateGolden = false
	InitGoldenFlag()
	if UpdateGolden {
		t.Error("expected UpdateGolden to remain false when env not set")
	}

	os.Setenv("UPDATE_GOLDEN", "1")
	t.Cleanup(func() { os.Unsetenv("UPDATE_GOLDEN") })
	InitGoldenFlag()
	if !UpdateGolden {
		t.Error("expected UpdateGolden to be true when env is '1'")
	}
}
