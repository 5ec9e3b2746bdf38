package boundary

import (
	"path/filepath"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"evt_001", true},
		{"session_abc.jsonl", true},
		{"", false},
		{"   ", false},
		{".", false},
		{"..", false},
		{"../escape", false},
		{"a/b", false},
		{`a\b`, false},
	}
	for _, tt := range tests {
		err := ValidateName("id", tt.name)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateName(%q): err=%v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

func TestJoinStaysInDir(t *testing.T) {
	dir := t.TempDir()
	got, err := Join(dir, "event id", "evt_001")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if got != filepath.Join(dir, "evt_001") {
		t.Errorf("unexpected path %q", got)
	}
	if !Within(dir, got) {
		t.Errorf("joined path %q escaped %q", got, dir)
	}
	if _, err := Join(dir, "event id", "../evt_001"); err == nil {
		t.Error("expected traversal rejection")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/a/b", "/a/b/c.json", true},
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/b/../b/c", true},
		{"/a/b", "/a/other", false},
		{"/a/b", "/a/b/../c", false},
		{"/a/b", "/", false},
	}
	for _, tt := range tests {
		if got := Within(tt.dir, tt.path); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
