package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	partA = ",subreddit,nsfw,name,subscribers,available\n0,a,False,t5_a,1,True\n1,dup,False,t5_first,2,True\n"
	partB = ",subreddit,nsfw,name,subscribers,available\n0,dup,,,,False\n1,c,True,t5_c,3.0,True\n"
)

func TestRunMerge(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	parts := filepath.Join(dir, "data", "parts")
	if err := os.MkdirAll(parts, 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(parts, "sub-2-4.csv"), []byte(partB), 0o644)
	_ = os.WriteFile(filepath.Join(parts, "sub-0-2.csv"), []byte(partA), 0o644)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"--xlsx", "data/merged.xlsx"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run return %d: %s %s", code, stdout.String(), stderr.String())
	}
	b, err := os.ReadFile(filepath.Join(dir, "data", "merged.csv"))
	if err != nil {
		t.Fatalf("merged missing: %v", err)
	}
	want := ",subreddit,nsfw,name,subscribers,available\n" +
		"0,a,False,t5_a,1,True\n" +
		"1,dup,False,t5_first,2,True\n" +
		"2,c,True,t5_c,3,True\n"
	if string(b) != want {
		t.Fatalf("merged:\n%s", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "merged.xlsx")); err != nil {
		t.Fatalf("xlsx missing: %v", err)
	}
	if !strings.Contains(stdout.String(), "Loading sub-0-2.csv ...") {
		t.Fatalf("stdout: %s", stdout.String())
	}
}

func TestRunMergeUnreadable(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	_ = os.MkdirAll("parts", 0o755)
	_ = os.WriteFile(filepath.Join("parts", "sub-0-1.csv"), []byte("no,header\n"), 0o644)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--parts", "parts", "--output", "merged.csv"}, &stdout, &stderr); code != 1 {
		t.Fatalf("expected 1, got %d", code)
	}
	if _, err := os.Stat("merged.csv"); !os.IsNotExist(err) {
		t.Fatalf("merged written on failure")
	}
}

func TestRunMergeUnknownSink(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--sink", "s3"}, &stdout, &stderr); code != 3 {
		t.Fatalf("expected 3, got %d", code)
	}
}

func TestRunMergeRejectsPositionalArgs(t *testing.T) {
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	if code := run([]string{"data/parts"}, &stdout, &stderr); code != 3 {
		t.Fatalf("expected 3, got %d", code)
	}
	if !strings.Contains(stderr.String(), "data/parts") {
		t.Fatalf("stderr: %s", stderr.String())
	}
}
