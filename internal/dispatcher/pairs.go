package dispatcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

// ParsePair parses "COMPANY:SOURCE", splitting on the first colon.
func ParsePair(raw string) (newsfeed.WorkItem, error) {
	company, source, ok := strings.Cut(raw, ":")
	if !ok {
		return newsfeed.WorkItem{}, newsfeed.Validationf("pair %q must look like COMPANY:SOURCE", raw)
	}
	item, err := newsfeed.NewWorkItem(company, source)
	if err != nil {
		return newsfeed.WorkItem{}, fmt.Errorf("pair %q: %w", raw, err)
	}
	return item, nil
}

// ParsePairs parses every pair or none.
func ParsePairs(raw []string) ([]newsfeed.WorkItem, error) {
	items := make([]newsfeed.WorkItem, 0, len(raw))
	for _, r := range raw {
		item, err := ParsePair(r)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Format selects the pair file syntax.
type Format string

// Supported pair file formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a file extension, defaulting to YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// LoadPairsFile reads a list of {company, sources} entries.
func LoadPairsFile(path string) ([]newsfeed.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pairs file: %w", err)
	}
	items, err := ParseEntries(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("pairs file %s: %w", path, err)
	}
	return items, nil
}

// LoadEntriesFile reads {company, sources} entries without expanding them.
func LoadEntriesFile(path string) ([]newsfeed.CompanySources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entries file: %w", err)
	}
	entries, err := DecodeEntries(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("entries file %s: %w", path, err)
	}
	return entries, nil
}

// DecodeEntries decodes entries strictly: unknown keys and wrong value types
// are validation errors. Entries may list no sources.
func DecodeEntries(data []byte, format Format) ([]newsfeed.CompanySources, error) {
	var entries []newsfeed.CompanySources
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&entries); err != nil {
			return nil, newsfeed.Validationf("decode json: %v", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, newsfeed.Validationf("decode json: unexpected data after the entry list")
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
			return nil, newsfeed.Validationf("decode yaml: %v", err)
		}
		var next any
		if err := dec.Decode(&next); !errors.Is(err, io.EOF) {
			return nil, newsfeed.Validationf("decode yaml: expected a single document")
		}
	}
	if len(entries) == 0 {
		return nil, newsfeed.Validationf("no entries")
	}
	return entries, nil
}

// ParseEntries decodes entries and expands them into work items. Every entry
// must list at least one source.
func ParseEntries(data []byte, format Format) ([]newsfeed.WorkItem, error) {
	entries, err := DecodeEntries(data, format)
	if err != nil {
		return nil, err
	}

	var items []newsfeed.WorkItem
	for i, entry := range entries {
		if len(entry.Sources) == 0 {
			return nil, newsfeed.Validationf("entry %d (%q) has no sources", i, entry.Company)
		}
		pairs, err := entry.Pairs()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		items = append(items, pairs...)
	}
	return items, nil
}
