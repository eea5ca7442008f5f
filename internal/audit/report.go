package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Report is the structured Analyzer output stored on a completed job.
// Scores and grades are stored verbatim; ordering is preserved.
type Report struct {
	OverallScore    int              `json:"overall_score"`
	OverallGrade    string           `json:"overall_grade"`
	TotalChecks     int              `json:"total_checks"`
	TotalPassed     int              `json:"total_passed"`
	TotalFailed     int              `json:"total_failed"`
	TotalCritical   int              `json:"total_critical"`
	PagesCrawled    int              `json:"pages_crawled"`
	CrawlDurationMs int64            `json:"crawl_duration_ms"`
	AuditDurationMs int64            `json:"audit_duration_ms"`
	Categories      Categories       `json:"category_results"`
	Recommendations []Recommendation `json:"recommendations"`
}

// CategoryResult holds the scored checks of one category.
type CategoryResult struct {
	Score          int     `json:"score"`
	Grade          string  `json:"grade"`
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	CriticalIssues int     `json:"critical_issues"`
	Checks         []Check `json:"checks"`
	// Extra keeps Analyzer fields not modelled above, written back as-is.
	Extra map[string]json.RawMessage `json:"-"`
}

// Check is a single pass/fail rule evaluated by the Analyzer.
type Check struct {
	Name           string   `json:"name"`
	Passed         bool     `json:"passed"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
	// Extra keeps Analyzer fields such as weight or page_url.
	Extra map[string]json.RawMessage `json:"-"`
}

type (
	categoryResultFields CategoryResult
	checkFields          Check
)

var (
	categoryResultKeys = []string{"score", "grade", "passed", "failed", "critical_issues", "checks"}
	checkKeys          = []string{"name", "passed", "severity", "message", "recommendation"}
)

// MarshalJSON writes the modelled fields followed by any extra ones.
func (c CategoryResult) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(categoryResultFields(c))
	if err != nil {
		return nil, err
	}
	return appendExtra(base, c.Extra, categoryResultKeys)
}

// UnmarshalJSON decodes the modelled fields and keeps the rest in Extra.
func (c *CategoryResult) UnmarshalJSON(data []byte) error {
	var fields categoryResultFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := extraFields(data, categoryResultKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*c = CategoryResult(fields)
	return nil
}

// MarshalJSON writes the modelled fields followed by any extra ones.
func (c Check) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(checkFields(c))
	if err != nil {
		return nil, err
	}
	return appendExtra(base, c.Extra, checkKeys)
}

// UnmarshalJSON decodes the modelled fields and keeps the rest in Extra.
func (c *Check) UnmarshalJSON(data []byte) error {
	var fields checkFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := extraFields(data, checkKeys)
	if err != nil {
		return err
	}
	fields.Extra = extra
	*c = Check(fields)
	return nil
}

// extraFields returns the members of a JSON object that are not in known.
func extraFields(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, key := range known {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// appendExtra splices extra members, sorted by key, into the encoded object
// base. Keys that collide with modelled fields are dropped.
func appendExtra(base []byte, extra map[string]json.RawMessage, known []string) ([]byte, error) {
	keys := make([]string, 0, len(extra))
	for key := range extra {
		if !slices.Contains(known, key) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return base, nil
	}
	slices.Sort(keys)
	out := bytes.NewBuffer(bytes.TrimSuffix(bytes.TrimSpace(base), []byte("}")))
	for _, key := range keys {
		name, err := json.Marshal(key)
		if err != nil {
			return nil, fmt.Errorf("marshal field name %q: %w", key, err)
		}
		if !json.Valid(extra[key]) {
			return nil, fmt.Errorf("field %q holds invalid JSON", key)
		}
		out.WriteByte(',')
		out.Write(name)
		out.WriteByte(':')
		out.Write(extra[key])
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

// Recommendation is a top-level action item; each one becomes a Fix.
type Recommendation struct {
	Category       string   `json:"category"`
	Severity       Severity `json:"severity"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
	PageURL        string   `json:"page_url,omitempty"`
}

// Category pairs a category key with its result.
type Category struct {
	Key    string
	Result CategoryResult
}

// Categories is an ordered category mapping. It encodes as a JSON object
// whose keys keep the order the Analyzer emitted them in.
type Categories []Category

// Get returns the result for key.
func (c Categories) Get(key string) (CategoryResult, bool) {
	for _, cat := range c {
		if cat.Key == key {
			return cat.Result, true
		}
	}
	return CategoryResult{}, false
}

// MarshalJSON writes the categories as an ordered JSON object.
func (c Categories) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cat := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cat.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal category key: %w", err)
		}
		val, err := json.Marshal(cat.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal category %q: %w", cat.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object while preserving key order.
func (c *Categories) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read category_results: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("category_results must be an object")
	}
	out := Categories{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read category key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("category key must be a string")
		}
		var result CategoryResult
		if err := dec.Decode(&result); err != nil {
			return fmt.Errorf("decode category %q: %w", key, err)
		}
		out = append(out, Category{Key: key, Result: result})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("close category_results: %w", err)
	}
	*c = out
	return nil
}

// Validate checks the report against the Analyzer output schema.
func (r Report) Validate() error {
	if err := checkScore("overall_score", r.OverallScore); err != nil {
		return err
	}
	counts := map[string]int64{
		"total_checks":      int64(r.TotalChecks),
		"total_passed":      int64(r.TotalPassed),
		"total_failed":      int64(r.TotalFailed),
		"total_critical":    int64(r.TotalCritical),
		"pages_crawled":     int64(r.PagesCrawled),
		"crawl_duration_ms": r.CrawlDurationMs,
		"audit_duration_ms": r.AuditDurationMs,
	}
	for name, v := range counts {
		if v < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", name, v)
		}
	}
	seen := make(map[string]struct{}, len(r.Categories))
	for _, cat := range r.Categories {
		if cat.Key == "" {
			return errors.New("category key is required")
		}
		if _, dup := seen[cat.Key]; dup {
			return fmt.Errorf("duplicate category %q", cat.Key)
		}
		seen[cat.Key] = struct{}{}
		if err := cat.Result.validate(cat.Key); err != nil {
			return err
		}
	}
	for i, rec := range r.Recommendations {
		if !rec.Severity.Valid() {
			return fmt.Errorf("recommendations[%d]: unknown severity %q", i, rec.Severity)
		}
	}
	return nil
}

func (c CategoryResult) validate(key string) error {
	if err := checkScore(key+".score", c.Score); err != nil {
		return err
	}
	if c.Passed < 0 || c.Failed < 0 || c.CriticalIssues < 0 {
		return fmt.Errorf("%s: counts must be >= 0", key)
	}
	for i, chk := range c.Checks {
		if !chk.Severity.Valid() {
			return fmt.Errorf("%s.checks[%d]: unknown severity %q", key, i, chk.Severity)
		}
	}
	return nil
}

func checkScore(name string, v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s must be within 0-100, got %d", name, v)
	}
	return nil
}
