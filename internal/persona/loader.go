package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const personaFileName = "PERSONA.md"

var errInvalidPersonaYAML = errors.New("invalid persona YAML frontmatter")

type personaFrontmatter struct {
	ID          string             `yaml:"id"`
	DisplayName string             `yaml:"display_name"`
	Interests   []string           `yaml:"interests"`
	Affinity    map[string]float64 `yaml:"affinity"`
}

// LoadCatalog reads per-persona PERSONA.md files from personaDir, one
// subdirectory per persona. A missing or empty directory yields the
// built-in trio. Files with broken frontmatter are skipped with a
// warning; duplicate IDs are an error.
func LoadCatalog(personaDir string) (*Catalog, error) {
	personaDir = strings.TrimSpace(personaDir)
	if personaDir == "" {
		return NewCatalog(nil), nil
	}

	info, err := os.Stat(personaDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewCatalog(nil), nil
		}
		return nil, fmt.Errorf("stat persona dir %q: %w", personaDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona path is not a directory: %s", personaDir)
	}

	entries, err := os.ReadDir(personaDir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir %q: %w", personaDir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	profiles := make([]Profile, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		path := filepath.Join(personaDir, entry.Name(), personaFileName)
		profile, skip, parseErr := parsePersonaFile(path)
		if parseErr != nil {
			return nil, parseErr
		}
		if skip {
			continue
		}

		if prevPath, exists := seen[profile.ID]; exists {
			return nil, fmt.Errorf("duplicate persona id %q in %s (already in %s)", profile.ID, path, prevPath)
		}
		seen[profile.ID] = path
		profiles = append(profiles, profile)
	}

	if len(profiles) == 0 {
		return NewCatalog(nil), nil
	}
	return NewCatalog(profiles), nil
}

func parsePersonaFile(path string) (Profile, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Profile{}, true, nil
		}
		return Profile{}, false, fmt.Errorf("read persona %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidPersonaYAML) {
			log.Printf("[persona] warning: skip invalid YAML persona %s: %v", path, err)
			return Profile{}, true, nil
		}
		return Profile{}, false, fmt.Errorf("parse persona %q: %w", path, err)
	}
	if strings.TrimSpace(meta.ID) == "" {
		return Profile{}, false, fmt.Errorf("parse persona %q: missing id", path)
	}

	profile := Profile{
		ID:              strings.ToLower(strings.TrimSpace(meta.ID)),
		DisplayName:     strings.TrimSpace(meta.DisplayName),
		Style:           strings.TrimSpace(body),
		Interests:       meta.Interests,
		ChannelAffinity: meta.Affinity,
	}
	if profile.DisplayName == "" {
		profile.DisplayName = profile.ID
	}
	return profile, false, nil
}

func parseFrontmatter(content []byte) (personaFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), "\ufeff")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return personaFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return personaFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	frontmatter := strings.Join(lines[1:end], "\n")
	body := strings.Join(lines[end+1:], "\n")

	var meta personaFrontmatter
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return personaFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidPersonaYAML, err)
	}

	return meta, body, nil
}

// WriteProfile renders a profile back into <dir>/<id>/PERSONA.md, used by
// onboarding to seed editable persona files.
func WriteProfile(personaDir string, p Profile) error {
	dir := filepath.Join(personaDir, p.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create persona dir: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "id: %s\n", p.ID)
	fmt.Fprintf(&b, "display_name: %s\n", p.DisplayName)
	if len(p.Interests) > 0 {
		b.WriteString("interests:\n")
		for _, interest := range p.Interests {
			fmt.Fprintf(&b, "  - %s\n", interest)
		}
	}
	if len(p.ChannelAffinity) > 0 {
		b.WriteString("affinity:\n")
		for _, ch := range sortedChannels(p.ChannelAffinity) {
			fmt.Fprintf(&b, "  %s: %.4f\n", ch, p.ChannelAffinity[ch])
		}
	}
	b.WriteString("---\n")
	b.WriteString(p.Style)
	b.WriteString("\n")

	path := filepath.Join(dir, personaFileName)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write persona %q: %w", path, err)
	}
	return nil
}
