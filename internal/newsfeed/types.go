package newsfeed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkItem is one "fetch news for company from source" unit.
type WorkItem struct {
	Company string `json:"company"`
	Source  string `json:"source"`
}

// NewWorkItem trims both fields and rejects empty values.
func NewWorkItem(company, source string) (WorkItem, error) {
	item := WorkItem{
		Company: strings.TrimSpace(company),
		Source:  strings.TrimSpace(source),
	}
	if err := item.Validate(); err != nil {
		return WorkItem{}, err
	}
	return item, nil
}

// Validate reports whether both fields are present after trimming.
func (w WorkItem) Validate() error {
	if strings.TrimSpace(w.Company) == "" {
		return Validationf("company is required")
	}
	if strings.TrimSpace(w.Source) == "" {
		return Validationf("source is required for company %q", w.Company)
	}
	return nil
}

// String renders the pair as "company / source".
func (w WorkItem) String() string {
	return w.Company + " / " + w.Source
}

// Article is a single provider article. Every field is kept as the raw JSON
// the provider sent, so values of any type are written back unchanged.
type Article map[string]json.RawMessage

// Text returns the named field when it holds a JSON string, and "" otherwise.
func (a Article) Text(key string) string {
	raw, ok := a[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// NewArticle encodes each value into an Article.
func NewArticle(fields map[string]any) (Article, error) {
	a := make(Article, len(fields))
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode article field %q: %w", k, err)
		}
		a[k] = raw
	}
	return a, nil
}

// FetchResult is the canonical stored record for a (company, source) pair.
// FetchedAt holds the provider's value verbatim; it may be a string or a
// number.
type FetchResult struct {
	Company   string          `json:"company"`
	Source    string          `json:"source"`
	FetchedAt json.RawMessage `json:"fetched_at,omitempty"`
	Articles  []Article       `json:"articles"`

	Extra map[string]json.RawMessage `json:"-"`
}

type fetchResultFields FetchResult

var fetchResultKeys = []string{"company", "source", "fetched_at", "articles"}

// MarshalJSON merges the known fields with Extra.
func (r FetchResult) MarshalJSON() ([]byte, error) {
	fields := fetchResultFields(r)
	if fields.Articles == nil {
		fields.Articles = []Article{}
	}
	return marshalWithExtra(fields, r.Extra)
}

// UnmarshalJSON decodes known fields and keeps provider-specific ones in Extra.
func (r *FetchResult) UnmarshalJSON(data []byte) error {
	var fields fetchResultFields
	extra, err := unmarshalWithExtra(data, &fields, fetchResultKeys)
	if err != nil {
		return fmt.Errorf("decode fetch result: %w", err)
	}
	*r = FetchResult(fields)
	r.Extra = extra
	return nil
}

// FetchedAtText returns fetched_at when it is a JSON string.
func (r FetchResult) FetchedAtText() string {
	var s string
	if err := json.Unmarshal(r.FetchedAt, &s); err != nil {
		return ""
	}
	return s
}

// WithDefaults fills company and source when the provider left them empty,
// and fetched_at only when the key is absent.
func (r FetchResult) WithDefaults(item WorkItem, now time.Time) FetchResult {
	if r.Company == "" {
		r.Company = item.Company
	}
	if r.Source == "" {
		r.Source = item.Source
	}
	if len(r.FetchedAt) == 0 {
		r.FetchedAt = json.RawMessage(strconv.Quote(now.UTC().Format(time.RFC3339Nano)))
	}
	if r.Articles == nil {
		r.Articles = []Article{}
	}
	return r
}

// DeadLetterEntry records one failed execution. Entries are append-only.
type DeadLetterEntry struct {
	Company    string    `json:"company"`
	Source     string    `json:"source"`
	Error      string    `json:"error"`
	Stage      Stage     `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ExecutionStatus is the terminal status of a successful execution.
type ExecutionStatus string

// StatusSuccess marks a persisted result.
const StatusSuccess ExecutionStatus = "success"

// ExecutionResult summarizes one successful execution.
type ExecutionResult struct {
	Status        ExecutionStatus `json:"status"`
	Company       string          `json:"company"`
	Source        string          `json:"source"`
	ObjectPath    string          `json:"object_path"`
	ArticlesCount int             `json:"articles_count"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// CompanySources pairs a company with the sources it should be fetched from.
type CompanySources struct {
	Company string   `json:"company" yaml:"company"`
	Sources []string `json:"sources" yaml:"sources"`
}

// Pairs flattens the entry into work items, validating each one.
func (c CompanySources) Pairs() ([]WorkItem, error) {
	items := make([]WorkItem, 0, len(c.Sources))
	for _, source := range c.Sources {
		item, err := NewWorkItem(c.Company, source)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// CompanyArticles is the aggregated read model for one company.
type CompanyArticles struct {
	Company                string        `json:"company"`
	SourceCount            int           `json:"source_count"`
	Sources                []string      `json:"sources"`
	TotalArticlesAvailable int           `json:"total_articles_available"`
	Items                  []FetchResult `json:"items"`
}

func marshalWithExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	base, err := json.Marshal(known)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	if len(extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(extra)+4)
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("merge fields: %w", err)
	}
	for k, v := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged: %w", err)
	}
	return out, nil
}

func unmarshalWithExtra(data []byte, known any, knownKeys []string) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	for _, k := range knownKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}
