// Package workspace owns the per-attempt checkout directories.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Manager lays out attempts as <root>/<app>/<attempt>.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Prepare creates an empty directory for one deploy attempt of app.
func (m *Manager) Prepare(app, attempt string) (string, error) {
	if app == "" || attempt == "" {
		return "", fmt.Errorf("workspace app and attempt cannot be empty")
	}
	if strings.ContainsAny(app+attempt, `/\`) || app == ".." || attempt == ".." {
		return "", fmt.Errorf("workspace identifiers must be plain names: %q/%q", app, attempt)
	}
	dir := filepath.Join(m.root, app, attempt)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Cleanup removes a directory created by Prepare.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

// Prune keeps the newest keep attempts of app and removes the rest.
func (m *Manager) Prune(app string, keep int) error {
	dir := filepath.Join(m.root, app)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read workspace: %w", err)
	}
	type attempt struct {
		path string
		mod  int64
	}
	var attempts []attempt
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		attempts = append(attempts, attempt{path: filepath.Join(dir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	if len(attempts) <= keep {
		return nil
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].mod > attempts[j].mod })
	for _, a := range attempts[keep:] {
		if err := m.Cleanup(a.path); err != nil {
			return err
		}
	}
	return nil
}

// RemoveApp deletes every attempt of app.
func (m *Manager) RemoveApp(app string) error {
	if app == "" {
		return fmt.Errorf("workspace app cannot be empty")
	}
	return m.Cleanup(filepath.Join(m.root, app))
}
