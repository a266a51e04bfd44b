// Package localization loads translation strings from JSON files, one file per
// language code (en.json, uk.json), and resolves them with an English fallback.
package localization

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultLanguage is used when a key is missing in the requested language.
const DefaultLanguage = "en"

type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads every *.json file in path. The default language must be present.
func NewLocalizer(path string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}
		if err := l.Add(strings.TrimSuffix(file.Name(), ".json"), data); err != nil {
			return nil, err
		}
	}

	if _, ok := l.translations[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("localization directory %s has no %s.json", path, DefaultLanguage)
	}
	return l, nil
}

// Add registers (or replaces) the translations of one language from JSON.
func (l *Localizer) Add(lang string, data []byte) error {
	var translations map[string]string
	if err := json.Unmarshal(data, &translations); err != nil {
		return fmt.Errorf("failed to parse localization for %s: %w", lang, err)
	}
	l.mu.Lock()
	l.translations[lang] = translations
	l.mu.Unlock()
	return nil
}

// GetString returns the string for key in lang, then in English, then the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value, ok := l.translations[lang][key]; ok {
		return value
	}
	if value, ok := l.translations[DefaultLanguage][key]; ok {
		return value
	}
	return key
}

// Format resolves key and applies fmt.Sprintf with args.
func (l *Localizer) Format(lang, key string, args ...interface{}) string {
	return fmt.Sprintf(l.GetString(lang, key), args...)
}

// Languages lists the loaded language codes, sorted.
func (l *Localizer) Languages() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.translations))
	for lang := range l.translations {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether lang has its own translation file.
func (l *Localizer) Supports(lang string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.translations[lang]
	return ok
}
