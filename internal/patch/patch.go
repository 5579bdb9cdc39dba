// Package patch parses and builds the two patch dialects the landing
// pipeline accepts from external clients: Mercurial "hg export" mail-style
// patches and git "format-patch" patches.
package patch

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Dialect identifies which patch format a Record was parsed from.
type Dialect string

const (
	DialectHgExport      Dialect = "hgexport"
	DialectGitFormatPatch Dialect = "git-format-patch"
)

// Record is the dialect-independent result of parsing a patch.
type Record struct {
	Dialect        Dialect
	AuthorName     string
	AuthorEmail    string
	Timestamp      time.Time
	CommitMessage  string
	Diff           []byte
}

var diffLineRE = regexp.MustCompile(`^(diff --git a/.*|diff -r \w+ .*)$`)

var headerNames = []string{"User", "Date", "Node ID", "Parent", "Fail HG Import"}

// ParseHgExport parses a "# HG changeset patch" mail-style export, in the
// style produced by `hg export`. Header lines precede a blank-line-free
// commit description, which is in turn followed by the diff itself. An
// optional "Diff Start Line" header gives the exact line number the diff
// begins on, used when the commit description itself contains text that
// looks like a diff header.
func ParseHgExport(raw []byte) (*Record, error) {
	lines := strings.Split(string(raw), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "# HG changeset patch" {
		return nil, fmt.Errorf("hgexport: missing '# HG changeset patch' header")
	}

	headers := map[string]string{}
	bodyStart := 1
	diffStartLine := -1
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(line, "# ") {
			bodyStart = i
			break
		}
		rest := strings.TrimPrefix(line, "# ")
		parsed := false
		for _, name := range headerNames {
			if strings.HasPrefix(rest, name+" ") {
				headers[name] = strings.TrimPrefix(rest, name+" ")
				parsed = true
				break
			}
		}
		if strings.HasPrefix(rest, "Diff Start Line ") {
			n, err := strconv.Atoi(strings.TrimPrefix(rest, "Diff Start Line "))
			if err == nil {
				diffStartLine = n
			}
			parsed = true
		}
		if !parsed {
			bodyStart = i
			break
		}
		bodyStart = i + 1
	}

	name, email, err := splitAuthor(headers["User"])
	if err != nil {
		return nil, fmt.Errorf("hgexport: %w", err)
	}

	ts, err := parseHgDate(headers["Date"])
	if err != nil {
		return nil, fmt.Errorf("hgexport: %w", err)
	}

	var descEnd int
	if diffStartLine > 0 {
		descEnd = diffStartLine - 1
	} else {
		descEnd = -1
		for i := bodyStart; i < len(lines); i++ {
			if diffLineRE.MatchString(lines[i]) {
				descEnd = i
				break
			}
		}
		if descEnd == -1 {
			return nil, fmt.Errorf("hgexport: %w", errNoDiffStartLine)
		}
	}
	if descEnd < bodyStart || descEnd > len(lines) {
		return nil, fmt.Errorf("hgexport: %w", errNoDiffStartLine)
	}

	desc := strings.TrimRight(strings.Join(lines[bodyStart:descEnd], "\n"), "\n")
	diff := strings.Join(lines[descEnd:], "\n")

	return &Record{
		Dialect:       DialectHgExport,
		AuthorName:    name,
		AuthorEmail:   email,
		Timestamp:     ts,
		CommitMessage: desc,
		Diff:          []byte(diff),
	}, nil
}

// ErrNoDiffStartLine reports that a commit description could not be
// separated from its diff because no "diff --git"/"diff -r" line was found
// and no explicit "Diff Start Line" header was present.
var ErrNoDiffStartLine = fmt.Errorf("could not locate start of diff")

var errNoDiffStartLine = ErrNoDiffStartLine

func parseHgDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing Date header")
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("malformed Date header %q", s)
	}
	sec, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed Date header %q: %w", s, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// ParseGitFormatPatch parses a single patch produced by `git format-patch`.
// It reads the RFC 2822-ish "From/Date/Subject" header block, the "---"
// stat separator, and the diff body. A patch without the separator is an
// error.
func ParseGitFormatPatch(raw []byte) (*Record, error) {
	lines := strings.Split(string(raw), "\n")

	var fromLine, dateLine, subjectLine string
	bodyStart := 0
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "From: "):
			fromLine = strings.TrimPrefix(line, "From: ")
		case strings.HasPrefix(line, "Date: "):
			dateLine = strings.TrimPrefix(line, "Date: ")
		case strings.HasPrefix(line, "Subject: "):
			subjectLine = strings.TrimPrefix(line, "Subject: ")
			bodyStart = i + 1
		}
		if subjectLine != "" && i == bodyStart-1 {
			continue
		}
	}
	if fromLine == "" {
		return nil, fmt.Errorf("git-format-patch: missing From header")
	}
	if subjectLine == "" {
		return nil, fmt.Errorf("git-format-patch: missing Subject header")
	}

	name, email, err := splitAuthor(fromLine)
	if err != nil {
		return nil, fmt.Errorf("git-format-patch: %w", err)
	}

	ts, err := parseGitDate(dateLine)
	if err != nil {
		return nil, fmt.Errorf("git-format-patch: %w", err)
	}

	subject := strings.TrimPrefix(subjectLine, "[PATCH] ")
	subject = stripPatchPrefix(subject)

	// Skip the blank line after headers, accumulate the commit message up
	// to the "---" stat separator, then the diff runs to EOF.
	descLines := []string{}
	diffStart := -1
	for i := bodyStart; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			diffStart = i + 1
			break
		}
		descLines = append(descLines, lines[i])
	}
	if diffStart == -1 {
		return nil, fmt.Errorf("git-format-patch: %w", errNoDiffStartLine)
	}

	// Drop the leading blank line directly after the Subject header.
	for len(descLines) > 0 && strings.TrimSpace(descLines[0]) == "" {
		descLines = descLines[1:]
	}
	desc := strings.TrimRight(subject+"\n\n"+strings.Join(descLines, "\n"), "\n")

	diff := strings.Join(lines[diffStart:], "\n")
	// git format-patch appends a version trailer ("-- \n2.40.0\n") after the
	// diff; strip it so callers see a clean diff body.
	if idx := strings.Index(diff, "\n-- \n"); idx >= 0 {
		diff = diff[:idx]
	}

	return &Record{
		Dialect:       DialectGitFormatPatch,
		AuthorName:    name,
		AuthorEmail:   email,
		Timestamp:     ts,
		CommitMessage: desc,
		Diff:          []byte(diff),
	}, nil
}

func stripPatchPrefix(s string) string {
	re := regexp.MustCompile(`^\[PATCH[^\]]*\]\s*`)
	return re.ReplaceAllString(s, "")
}

func parseGitDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing Date header")
	}
	t, err := time.Parse(time.RFC1123Z, s)
	if err != nil {
		t, err = time.Parse("Mon, 2 Jan 2006 15:04:05 -0700", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("malformed Date header %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// splitAuthor splits an RFC 5322-ish author string ("Name <email>" or a bare
// email) into name and email components, tolerating quoted display names
// with escaped quotes the way Mercurial's own author parsing does.
func splitAuthor(author string) (name, email string, err error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return "", "", fmt.Errorf("empty author")
	}

	if open := strings.LastIndex(author, "<"); open >= 0 {
		if closeIdx := strings.LastIndex(author, ">"); closeIdx > open {
			email = strings.TrimSpace(author[open+1 : closeIdx])
			name = strings.TrimSpace(author[:open])
			name = unquoteDisplayName(name)
			return name, email, nil
		}
	}

	// No angle brackets: treat the whole string as an email and derive a
	// display name from the part before the '@', with dots replaced by
	// spaces, the way hg's person()/email() fallback does for bare
	// addresses.
	if at := strings.Index(author, "@"); at >= 0 {
		return strings.ReplaceAll(author[:at], ".", " "), author, nil
	}

	return author, "", nil
}

func unquoteDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"' {
		inner := name[1 : len(name)-1]
		inner = strings.ReplaceAll(inner, `\"`, `"`)
		inner = strings.ReplaceAll(inner, `\\`, `\`)
		return inner
	}
	return name
}

// Detect guesses a patch's dialect from its first non-blank line.
func Detect(raw []byte) Dialect {
	for _, line := range bytes.Split(raw, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if bytes.Equal(trimmed, []byte("# HG changeset patch")) {
			return DialectHgExport
		}
		if bytes.HasPrefix(trimmed, []byte("From ")) || bytes.HasPrefix(trimmed, []byte("From:")) {
			return DialectGitFormatPatch
		}
		return ""
	}
	return ""
}

// Parse dispatches to the appropriate parser for the given dialect.
func Parse(dialect Dialect, raw []byte) (*Record, error) {
	switch dialect {
	case DialectHgExport:
		return ParseHgExport(raw)
	case DialectGitFormatPatch:
		return ParseGitFormatPatch(raw)
	default:
		return nil, fmt.Errorf("patch: unknown dialect %q", dialect)
	}
}

// BuildHgExport renders a Record back into an "hg export" mail-style patch,
// computing the "Diff Start Line" header so the commit description can
// safely contain text resembling a diff header.
func BuildHgExport(r *Record) []byte {
	var buf bytes.Buffer
	buf.WriteString("# HG changeset patch\n")
	author := r.AuthorEmail
	if r.AuthorName != "" {
		author = fmt.Sprintf("%s <%s>", r.AuthorName, r.AuthorEmail)
	}
	fmt.Fprintf(&buf, "# User %s\n", author)
	fmt.Fprintf(&buf, "# Date %d 0\n", r.Timestamp.Unix())

	desc := r.CommitMessage
	descLineCount := strings.Count(desc, "\n") + 1
	// Header block is 4 lines (patch/User/Date plus the Diff Start Line
	// header itself), the description occupies lines 5..4+n, and the diff
	// begins on the line after it.
	diffStartLine := 5 + descLineCount
	fmt.Fprintf(&buf, "# Diff Start Line %d\n", diffStartLine)
	buf.WriteString(desc)
	buf.WriteString("\n")
	buf.Write(r.Diff)
	return buf.Bytes()
}
