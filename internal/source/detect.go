package source

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/splax/kubehost/internal/domain"
)

type packageManifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
}

// DetectType infers the app type from marker files: package.json, then
// requirements.txt or pyproject.toml, then index.html.
func DetectType(dir string) domain.AppType {
	if fileExists(filepath.Join(dir, "package.json")) {
		if isNextApp(dir) {
			return domain.AppTypeNextJS
		}
		return domain.AppTypeNodeJS
	}
	if fileExists(filepath.Join(dir, "requirements.txt")) || fileExists(filepath.Join(dir, "pyproject.toml")) {
		return domain.AppTypePython
	}
	if fileExists(filepath.Join(dir, "index.html")) {
		return domain.AppTypeStatic
	}
	return domain.AppTypeUnknown
}

// ResolveType returns the requested type when it is known, else the detected one.
func ResolveType(requested, dir string) domain.AppType {
	if t := domain.ParseAppType(requested); t != domain.AppTypeUnknown {
		return t
	}
	return DetectType(dir)
}

func isNextApp(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	if _, ok := m.Dependencies["next"]; ok {
		return true
	}
	if _, ok := m.DevDependencies["next"]; ok {
		return true
	}
	for _, script := range m.Scripts {
		if strings.HasPrefix(strings.TrimSpace(script), "next ") {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
