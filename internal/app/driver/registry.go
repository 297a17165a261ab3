package driver

import (
	"sort"
	"strings"
)

// Factory builds a driver for one piece of source code.
type Factory func(code string, cfg Config) Driver

// Registry maps language names (and their aliases) to driver factories. Built once at startup.
type Registry struct {
	factories map[string]Factory
	names     []string
}

// NewRegistry returns a registry with every supported language.
func NewRegistry(pythonVersion string) *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(func(code string, cfg Config) Driver {
		return NewPythonDriver(code, cfg.withDefaults(pythonVersion))
	}, "python", "py")
	return r
}

// Register binds f to name and any aliases. The first name is the canonical one.
func (r *Registry) Register(f Factory, name string, aliases ...string) {
	r.factories[name] = f
	for _, a := range aliases {
		r.factories[a] = f
	}
	r.names = append(r.names, name)
	sort.Strings(r.names)
}

// New constructs a driver for language, which is matched case-insensitively.
func (r *Registry) New(language, code string, cfg Config) (Driver, error) {
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, &UnsupportedLanguageError{Language: language}
	}
	return f(code, cfg), nil
}

// Languages lists canonical language names.
func (r *Registry) Languages() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
