package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Library is an immutable set of loaded templates keyed by name.
// Loading happens once, so rendering from a Library never touches the filesystem.
type Library struct {
	dir       string
	templates map[string]string
	sources   map[string]string
}

// LoadLibrary loads the named templates plus the templates the refinement loop
// needs (refine.md, semantic_judge.md). Each name is looked up in dir first and
// falls back to the built-in templates.
func LoadLibrary(dir string, names []string) (*Library, error) {
	l := &Library{
		dir:       dir,
		templates: make(map[string]string),
		sources:   make(map[string]string),
	}
	all := append([]string{RefineTemplate, JudgeTemplate}, names...)
	for _, name := range all {
		if _, ok := l.templates[name]; ok {
			continue
		}
		content, source, err := loadTemplate(name, dir)
		if err != nil {
			return nil, err
		}
		l.templates[name] = content
		l.sources[name] = source
	}
	return l, nil
}

// Template returns the content of a loaded template.
func (l *Library) Template(name string) (string, error) {
	t, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("template %q not loaded", name)
	}
	return t, nil
}

// Source reports where a loaded template came from: a file path or "builtin".
func (l *Library) Source(name string) string {
	return l.sources[name]
}

// Names returns loaded template names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for n := range l.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render renders the named template with vars.
func (l *Library) Render(name string, vars Vars) (string, error) {
	t, err := l.Template(name)
	if err != nil {
		return "", err
	}
	out, err := Render(t, vars)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

// loadTemplate reads a template by name. It first checks for an override in dir,
// then falls back to built-in templates.
func loadTemplate(name, dir string) (content, source string, err error) {
	if dir != "" {
		path := filepath.Join(dir, name)
		// Prevent path traversal: resolved path must be within dir
		absPath, err := filepath.Abs(path)
		if err == nil {
			absDir, err2 := filepath.Abs(dir)
			if err2 == nil && !strings.HasPrefix(absPath, absDir+string(filepath.Separator)) {
				return "", "", fmt.Errorf("template path %q escapes template dir", name)
			}
		}
		if data, err := os.ReadFile(path); err == nil {
			return string(data), path, nil
		}
	}

	if t, ok := builtinTemplates[name]; ok {
		return t, "builtin", nil
	}
	if dir != "" {
		return "", "", fmt.Errorf("template %q not found in %s or built-ins", name, dir)
	}
	return "", "", fmt.Errorf("template %q not found in built-ins", name)
}

// BuiltinNames returns the names of the built-in templates in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtinTemplates))
	for n := range builtinTemplates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the content of a built-in template.
func Builtin(name string) (string, bool) {
	t, ok := builtinTemplates[name]
	return t, ok
}

// InstallBuiltinTemplates writes the built-in templates to dir if they don't
// already exist there. It returns the names it wrote.
func InstallBuiltinTemplates(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("template dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create templates dir: %w", err)
	}

	var written []string
	for _, name := range BuiltinNames() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue // don't overwrite existing
		}
		if err := os.WriteFile(path, []byte(builtinTemplates[name]), 0o644); err != nil {
			return written, fmt.Errorf("write template %q: %w", name, err)
		}
		written = append(written, name)
	}
	return written, nil
}
