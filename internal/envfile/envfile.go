// Package envfile parses KEY=VALUE style text: application env files and the
// shell export lines printed by cluster tools such as `minikube docker-env`.
package envfile

import (
	"bufio"
	"strings"

	"github.com/splax/kubehost/internal/domain"
)

// ParseDotenv parses newline-delimited KEY=VALUE text into ordered env vars.
// Blank lines, '#' comments, lines without '=', empty keys and values that are
// empty once surrounding quotes are removed are skipped. A repeated key keeps
// its first position and takes the last value.
func ParseDotenv(raw string) []domain.EnvVar {
	var vars []domain.EnvVar
	index := make(map[string]int)
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		if key == "" || value == "" {
			continue
		}
		if i, seen := index[key]; seen {
			vars[i].Value = value
			continue
		}
		index[key] = len(vars)
		vars = append(vars, domain.EnvVar{Name: key, Value: value})
	}
	return vars
}

// PortHints returns the values of keys containing PORT, used as hints for
// Dockerfile generation.
func PortHints(vars []domain.EnvVar) map[string]string {
	hints := make(map[string]string)
	for _, v := range vars {
		if strings.Contains(strings.ToUpper(v.Name), "PORT") {
			hints[v.Name] = v.Value
		}
	}
	return hints
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
