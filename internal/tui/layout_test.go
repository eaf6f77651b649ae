package tui

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
)

func TestFitLinesPadsAndClips(t *testing.T) {
	out := fitLines("ab\ncd\nef", 4, 2)
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "ab  " || lines[1] != "cd  " {
		t.Fatalf("unexpected lines: %q", lines)
	}
	out = fitLines("x", 2, 3)
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected filled height, got %q", out)
	}
}

func TestTruncateLineUsesDisplayWidth(t *testing.T) {
	if got := truncateLine("51A-12345", 20); got != "51A-12345" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	got := truncateLine("biển số xe 51A-12345", 10)
	if runewidth.StringWidth(got) > 10 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestWrapWords(t *testing.T) {
	lines := wrapWords("Training completed successfully!", 12)
	for _, line := range lines {
		if runewidth.StringWidth(line) > 12 {
			t.Fatalf("line too wide: %q", line)
		}
	}
	if strings.Join(lines, " ") != "Training completed successfully!" {
		t.Fatalf("words lost: %q", lines)
	}
	long := wrapWords("abcdefghij", 4)
	if len(long) != 3 || long[0] != "abcd" || long[2] != "ij" {
		t.Fatalf("unexpected split: %q", long)
	}
}

func TestDescribeImage(t *testing.T) {
	if got := describeImage(""); got != "No image available" {
		t.Fatalf("unexpected description: %q", got)
	}
	if got := describeImage("data:image/jpeg;base64,AAAA"); got != "image/jpeg (3 B)" {
		t.Fatalf("unexpected description: %q", got)
	}
}
