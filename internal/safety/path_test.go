package safety

import (
	"strings"
	"testing"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "a/b/c.txt")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := SafeJoinUnder(root, "../escape.txt"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := SafeJoinUnder(root, "/abs/path.txt"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestCleanRemotePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"teamA/reports", "teamA/reports", false},
		{"/teamA/reports/", "teamA/reports", false},
		{"teamA//reports", "teamA/reports", false},
		{"teamA/./reports", "teamA/reports", false},
		{`teamA\reports`, "teamA/reports", false},
		{"teamA", "teamA", false},
		{"", "", true},
		{"   ", "", true},
		{"/", "", true},
		{".", "", true},
		{"../etc", "", true},
		{"teamA/../../etc", "", true},
		{"teamA/../teamB", "", true},
		{"team\x00A", "", true},
	}
	for _, tt := range tests {
		got, err := CleanRemotePath(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CleanRemotePath(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CleanRemotePath(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanRemotePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstSegment(t *testing.T) {
	if got := FirstSegment("teamA/reports/2023"); got != "teamA" {
		t.Errorf("FirstSegment = %q, want teamA", got)
	}
	if got := FirstSegment("teamA"); got != "teamA" {
		t.Errorf("FirstSegment = %q, want teamA", got)
	}
}
