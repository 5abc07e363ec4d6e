package envfile

import (
	"bufio"
	"strings"
)

// SkippedLine records an input line ParseExports could not interpret.
type SkippedLine struct {
	Number int
	Text   string
	Reason string
}

// ParseExports extracts variable assignments from shell snippets such as the
// output of `minikube docker-env`. It understands POSIX (`export K="v"`,
// `K=v`), cmd (`SET K=v`), PowerShell (`$Env:K = "v"`), fish (`set -gx K "v"`)
// and csh (`setenv K v`) forms. Comments, unset lines and anything malformed
// are skipped and reported; the parser never fails.
func ParseExports(text string) (map[string]string, []SkippedLine) {
	vars := make(map[string]string)
	var skipped []SkippedLine
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Text()
		line := strings.TrimSpace(strings.TrimSuffix(raw, ";"))
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isComment(line) {
			continue
		}
		key, value, reason := parseExportLine(line)
		if reason != "" {
			skipped = append(skipped, SkippedLine{Number: n, Text: raw, Reason: reason})
			continue
		}
		vars[key] = value
	}
	return vars, skipped
}

func isComment(line string) bool {
	if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
		return true
	}
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "rem ") || lower == "rem" || strings.HasPrefix(lower, "@rem") || strings.HasPrefix(lower, "::")
}

func parseExportLine(line string) (key, value, reason string) {
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "unset ") || strings.HasPrefix(lower, "remove-item ") || strings.HasPrefix(lower, "set -e "):
		return "", "", "unset directive"
	case strings.HasPrefix(lower, "export "):
		return assignment(strings.TrimSpace(line[len("export "):]))
	case strings.HasPrefix(lower, "$env:"):
		return assignment(strings.TrimSpace(line[len("$env:"):]))
	case strings.HasPrefix(lower, "setenv "):
		return spaced(strings.TrimSpace(line[len("setenv "):]))
	case strings.HasPrefix(lower, "set -gx ") || strings.HasPrefix(lower, "set -x "):
		rest := strings.TrimSpace(line[strings.Index(lower, "x ")+2:])
		return spaced(rest)
	case strings.HasPrefix(lower, "set "):
		return assignment(strings.TrimSpace(line[len("set "):]))
	default:
		return assignment(line)
	}
}

// assignment parses KEY=VALUE with optional spaces around '=' and optional quotes.
func assignment(s string) (string, string, string) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", "no assignment"
	}
	key = strings.TrimSpace(key)
	if !validKey(key) {
		return "", "", "invalid key"
	}
	value, ok = cleanValue(strings.TrimSpace(value))
	if !ok {
		return "", "", "unterminated quote"
	}
	return key, value, ""
}

// spaced parses `KEY VALUE` as used by fish and csh.
func spaced(s string) (string, string, string) {
	fields := strings.SplitN(s, " ", 2)
	if len(fields) != 2 {
		return "", "", "missing value"
	}
	key := strings.TrimSpace(fields[0])
	if !validKey(key) {
		return "", "", "invalid key"
	}
	value, ok := cleanValue(strings.TrimSpace(fields[1]))
	if !ok {
		return "", "", "unterminated quote"
	}
	return key, value, ""
}

func cleanValue(v string) (string, bool) {
	if v == "" {
		return "", true
	}
	q := v[0]
	if q != '"' && q != '\'' {
		return v, true
	}
	if len(v) < 2 || v[len(v)-1] != q {
		return "", false
	}
	return v[1 : len(v)-1], true
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
