package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRunGaps(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	_ = os.MkdirAll("data", 0o755)
	_ = os.WriteFile(filepath.Join("data", "merged.csv"), []byte(",subreddit,nsfw,name,subscribers,available\n0,a,False,t5_a,1,True\n1,b,,,,False\n"), 0o644)
	_ = os.WriteFile(filepath.Join("data", "subreddits.csv"), []byte(",subreddit\n0,a\n1,b\n2,c\n"), 0o644)

	var stdout, stderr bytes.Buffer
	if code := run(nil, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d: %s %s", code, stdout.String(), stderr.String())
	}
	b, err := os.ReadFile(filepath.Join("data", "missing_subreddits.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "subreddit\nb\n" {
		t.Fatalf("unexpected output %q", b)
	}

	if code := run([]string{"--include-absent", "--output", "data/all.csv"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d", code)
	}
	b, _ = os.ReadFile(filepath.Join("data", "all.csv"))
	if string(b) != "subreddit\nb\nc\n" {
		t.Fatalf("unexpected output %q", b)
	}
}

func TestRunGapsMissingMerged(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--merged", "nope.csv", "--output", "out.csv"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
}

func TestRunGapsRejectsPositionalArgs(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := run([]string{"extra"}, &stdout, &stderr); code != 3 {
		t.Fatalf("expected 3, got %d", code)
	}
	if _, err := os.Stat("data"); !os.IsNotExist(err) {
		t.Fatalf("rejected run wrote output: %v", err)
	}
}
