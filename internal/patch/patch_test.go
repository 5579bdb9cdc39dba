package patch

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseHgExport_HappyPath(t *testing.T) {
	raw := []byte(
		"# HG changeset patch\n" +
			"# User Jane Doe <jane@example.com>\n" +
			"# Date 1700000000 0\n" +
			"Bug 123 - Fix the thing\n\n" +
			"diff --git a/foo.txt b/foo.txt\n" +
			"--- a/foo.txt\n" +
			"+++ b/foo.txt\n" +
			"@@ -1,1 +1,1 @@\n" +
			"-old\n" +
			"+new\n",
	)

	rec, err := ParseHgExport(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.AuthorName != "Jane Doe" || rec.AuthorEmail != "jane@example.com" {
		t.Errorf("unexpected author: %q <%q>", rec.AuthorName, rec.AuthorEmail)
	}
	if rec.Timestamp.Unix() != 1700000000 {
		t.Errorf("unexpected timestamp: %v", rec.Timestamp)
	}
	if rec.CommitMessage != "Bug 123 - Fix the thing" {
		t.Errorf("unexpected commit message: %q", rec.CommitMessage)
	}
	if !bytes.Contains(rec.Diff, []byte("diff --git a/foo.txt b/foo.txt")) {
		t.Errorf("diff body missing diff header: %q", rec.Diff)
	}
}

func TestParseHgExport_UsesDiffStartLine(t *testing.T) {
	// A commit description that itself contains a line starting with
	// "diff --git" must not confuse the parser when an explicit
	// "Diff Start Line" header is present.
	raw := []byte(
		"# HG changeset patch\n" +
			"# User Jane Doe <jane@example.com>\n" +
			"# Date 1700000000 0\n" +
			"# Diff Start Line 6\n" +
			"Explains diff --git headers in prose\n" +
			"diff --git a/foo.txt b/foo.txt\n" +
			"--- a/foo.txt\n" +
			"+++ b/foo.txt\n",
	)

	rec, err := ParseHgExport(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.CommitMessage != "Explains diff --git headers in prose" {
		t.Errorf("unexpected commit message: %q", rec.CommitMessage)
	}
}

func TestParseHgExport_MissingHeader(t *testing.T) {
	_, err := ParseHgExport([]byte("not a patch\n"))
	if err == nil {
		t.Fatal("expected error for missing header")
	}
}

func TestParseGitFormatPatch_HappyPath(t *testing.T) {
	raw := []byte(
		"From 1234567890abcdef1234567890abcdef12345678 Mon Sep 17 00:00:00 2001\n" +
			"From: Jane Doe <jane@example.com>\n" +
			"Date: Tue, 1 Jan 2024 00:00:00 +0000\n" +
			"Subject: [PATCH] Bug 123 - Fix the thing\n\n" +
			"Longer explanation.\n" +
			"---\n" +
			" foo.txt | 2 +-\n" +
			" 1 file changed, 1 insertion(+), 1 deletion(-)\n\n" +
			"diff --git a/foo.txt b/foo.txt\n" +
			"--- a/foo.txt\n" +
			"+++ b/foo.txt\n" +
			"@@ -1,1 +1,1 @@\n" +
			"-old\n" +
			"+new\n" +
			"-- \n" +
			"2.43.0\n",
	)

	rec, err := ParseGitFormatPatch(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.AuthorName != "Jane Doe" || rec.AuthorEmail != "jane@example.com" {
		t.Errorf("unexpected author: %q <%q>", rec.AuthorName, rec.AuthorEmail)
	}
	if !strings.HasPrefix(rec.CommitMessage, "Bug 123 - Fix the thing") {
		t.Errorf("unexpected commit message: %q", rec.CommitMessage)
	}
	if bytes.Contains(rec.Diff, []byte("2.43.0")) {
		t.Errorf("expected version trailer to be stripped, got %q", rec.Diff)
	}
	if !bytes.Contains(rec.Diff, []byte("diff --git a/foo.txt b/foo.txt")) {
		t.Errorf("diff body missing diff header: %q", rec.Diff)
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Dialect
	}{
		{"hgexport", "# HG changeset patch\n...", DialectHgExport},
		{"git format-patch", "From 123abc Mon Sep 17 00:00:00 2001\n...", DialectGitFormatPatch},
		{"unknown", "garbage\n", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect([]byte(tc.raw)); got != tc.want {
				t.Errorf("Detect() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildHgExport_RoundTrip(t *testing.T) {
	rec := &Record{
		AuthorName:    "Jane Doe",
		AuthorEmail:   "jane@example.com",
		CommitMessage: "Bug 1 - does a thing\ndiff --git looks like a header but isn't",
		Diff:          []byte("diff --git a/f b/f\n--- a/f\n+++ b/f\n"),
	}
	built := BuildHgExport(rec)

	roundTripped, err := ParseHgExport(built)
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if roundTripped.CommitMessage != rec.CommitMessage {
		t.Errorf("commit message mismatch after round trip: got %q want %q", roundTripped.CommitMessage, rec.CommitMessage)
	}
	if !bytes.Equal(roundTripped.Diff, rec.Diff) {
		t.Errorf("diff mismatch after round trip: got %q want %q", roundTripped.Diff, rec.Diff)
	}
}
