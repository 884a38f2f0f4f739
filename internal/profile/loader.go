package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"automatosx/internal/errs"
)

// maxSuggestionDistance bounds how far a name may be from a known agent to
// still be offered as a suggestion.
const maxSuggestionDistance = 3

// Loader reads agent profiles and abilities from directories of YAML and
// Markdown files. Loaded profiles are cached; Invalidate drops the cache.
type Loader struct {
	agentsDir    string
	abilitiesDir string
	strict       bool
	logger       zerolog.Logger

	mu        sync.RWMutex
	profiles  map[string]*Profile // canonical name -> profile
	aliases   map[string]string   // display name -> canonical name
	loaded    bool
	abilities map[string]string // ability name -> content
}

// NewLoader creates a Loader over the given directories. With strict set,
// unknown ability references become errors instead of warnings.
func NewLoader(agentsDir, abilitiesDir string, strict bool, logger zerolog.Logger) *Loader {
	return &Loader{
		agentsDir:    agentsDir,
		abilitiesDir: abilitiesDir,
		strict:       strict,
		logger:       logger,
		abilities:    make(map[string]string),
	}
}

// ensureLoaded scans the agents directory once and builds the name index.
func (l *Loader) ensureLoaded() error {
	l.mu.RLock()
	if l.loaded {
		l.mu.RUnlock()
		return nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return nil
	}

	profiles := make(map[string]*Profile)
	aliases := make(map[string]string)

	entries, err := os.ReadDir(l.agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			l.profiles = profiles
			l.aliases = aliases
			l.loaded = true
			return nil
		}
		return fmt.Errorf("read agents dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(l.agentsDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable profile")
			continue
		}

		var p Profile
		if err := yaml.Unmarshal(data, &p); err != nil {
			l.logger.Warn().Err(err).Str("file", name).Msg("skipping malformed profile")
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}

		if err := validateStages(&p); err != nil {
			l.logger.Warn().Err(err).Str("agent", p.Name).Msg("skipping profile with invalid stages")
			continue
		}

		profiles[p.Name] = &p
		if p.DisplayName != "" && p.DisplayName != p.Name {
			aliases[strings.ToLower(p.DisplayName)] = p.Name
		}
	}

	l.profiles = profiles
	l.aliases = aliases
	l.loaded = true
	return nil
}

// validateStages checks that stage names are unique and dependencies refer
// to earlier-declared stages.
func validateStages(p *Profile) error {
	seen := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		for _, dep := range s.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("stage %q depends on unknown or later stage %q", s.Name, dep)
			}
		}
		seen[s.Name] = true
	}
	return nil
}

// Resolve maps a requested name (canonical or display alias, case
// insensitive for aliases) to the canonical agent name.
func (l *Loader) Resolve(name string) (string, bool) {
	if err := l.ensureLoaded(); err != nil {
		return "", false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.profiles[name]; ok {
		return name, true
	}
	if canonical, ok := l.aliases[strings.ToLower(name)]; ok {
		return canonical, true
	}
	return "", false
}

// Load returns the profile for the given name. A miss yields an
// AgentNotFound error carrying nearest-neighbor suggestions.
func (l *Loader) Load(name string) (*Profile, error) {
	if err := l.ensureLoaded(); err != nil {
		return nil, errs.Wrap(errs.CodeAgentNotFound, "load profiles", err)
	}

	canonical, ok := l.Resolve(name)
	if !ok {
		e := errs.Newf(errs.CodeAgentNotFound, "agent not found: %s", name).
			WithContext("requested", name)
		if suggestions := l.Suggest(name); len(suggestions) > 0 {
			e = e.WithSuggestions(suggestions...)
		}
		return nil, e
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profiles[canonical], nil
}

// List returns all canonical agent names, sorted.
func (l *Loader) List() ([]string, error) {
	if err := l.ensureLoaded(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.profiles))
	for name := range l.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Profiles returns all loaded profiles keyed by canonical name.
func (l *Loader) Profiles() (map[string]*Profile, error) {
	if err := l.ensureLoaded(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]*Profile, len(l.profiles))
	for k, v := range l.profiles {
		out[k] = v
	}
	return out, nil
}

// Suggest returns known agent names within edit distance 3 of the given
// name, nearest first.
func (l *Loader) Suggest(name string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	type candidate struct {
		name string
		dist int
	}
	var candidates []candidate
	lower := strings.ToLower(name)
	for known := range l.profiles {
		d := levenshtein.Distance(lower, strings.ToLower(known), nil)
		if d <= maxSuggestionDistance {
			candidates = append(candidates, candidate{known, d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].name < candidates[j].name
	})

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.name)
	}
	return out
}

// LoadAbilities resolves the named abilities to their text content.
// Unknown names are warnings unless the loader is strict.
func (l *Loader) LoadAbilities(names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		content, err := l.loadAbility(name)
		if err != nil {
			if l.strict {
				return nil, errs.Wrap(errs.CodeAbilityNotFound, fmt.Sprintf("ability %q", name), err)
			}
			l.logger.Warn().Str("ability", name).Msg("ability not found, skipping")
			continue
		}
		out[name] = content
	}
	return out, nil
}

// loadAbility reads one ability file, consulting the cache first.
func (l *Loader) loadAbility(name string) (string, error) {
	l.mu.RLock()
	if content, ok := l.abilities[name]; ok {
		l.mu.RUnlock()
		return content, nil
	}
	l.mu.RUnlock()

	path := filepath.Join(l.abilitiesDir, name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	l.abilities[name] = string(data)
	l.mu.Unlock()
	return string(data), nil
}

// Invalidate drops the profile and ability caches. The next access rescans
// the directories.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded = false
	l.profiles = nil
	l.aliases = nil
	l.abilities = make(map[string]string)
}
