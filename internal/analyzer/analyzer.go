// Package analyzer invokes the external SEO Analyzer and validates its output.
package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Kind classifies why an invocation failed.
type Kind string

// Invocation failure kinds.
const (
	KindStart    Kind = "start"
	KindExit     Kind = "exit"
	KindParse    Kind = "parse"
	KindReported Kind = "reported"
	KindInvalid  Kind = "invalid"
	KindTimeout  Kind = "timeout"
)

// InvocationError reports a failed Analyzer run. Its message is what gets
// stored on the failed job.
type InvocationError struct {
	Kind     Kind
	ExitCode int
	Message  string
	Stderr   string
	Err      error
}

// Error implements error.
func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return "analyzer " + string(e.Kind) + " failure"
	}
	return e.Message
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *InvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the failure kind of err, or "ok" for nil and "error" for
// errors that did not come from an invocation.
func KindOf(err error) string {
	if err == nil {
		return "ok"
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return string(invErr.Kind)
	}
	return "error"
}

// requiredFields must be present, and not null, in every Analyzer report.
var requiredFields = []string{
	"overall_score",
	"overall_grade",
	"total_checks",
	"total_passed",
	"total_failed",
	"total_critical",
	"category_results",
	"recommendations",
}

// ParseOutput decodes one Analyzer stdout document. An "error" field, bad
// JSON, a missing required field, or a report that fails validation all
// yield an InvocationError.
func ParseOutput(stdout []byte) (audit.Output, error) {
	raw := bytes.TrimSpace(stdout)
	if len(raw) == 0 {
		return audit.Output{}, &InvocationError{Kind: KindParse, Message: "analyzer produced no output"}
	}
	if !json.Valid(raw) {
		err := json.Unmarshal(raw, new(any))
		return audit.Output{}, &InvocationError{
			Kind:    KindParse,
			Message: fmt.Sprintf("analyzer output is not valid JSON: %v", err),
			Err:     err,
		}
	}
	if raw[0] != '{' {
		return audit.Output{}, &InvocationError{Kind: KindParse, Message: "analyzer output is not a JSON object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return audit.Output{}, &InvocationError{
			Kind:    KindParse,
			Message: fmt.Sprintf("analyzer output is not valid JSON: %v", err),
			Err:     err,
		}
	}
	if msg := reportedError(fields["error"]); msg != "" {
		return audit.Output{}, &InvocationError{Kind: KindReported, Message: msg}
	}

	var report audit.Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return audit.Output{}, &InvocationError{
			Kind:    KindParse,
			Message: fmt.Sprintf("analyzer output does not match the report schema: %v", err),
			Err:     err,
		}
	}
	if missing := missingFields(fields); len(missing) > 0 {
		return audit.Output{}, &InvocationError{
			Kind:    KindInvalid,
			Message: "analyzer report is missing required fields: " + strings.Join(missing, ", "),
		}
	}
	if err := report.Validate(); err != nil {
		return audit.Output{}, &InvocationError{
			Kind:    KindInvalid,
			Message: fmt.Sprintf("analyzer report rejected: %v", err),
			Err:     err,
		}
	}
	return audit.Output{Report: report, Raw: append([]byte(nil), raw...)}, nil
}

func missingFields(fields map[string]json.RawMessage) []string {
	var missing []string
	for _, name := range requiredFields {
		v, ok := fields[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, name)
		}
	}
	return missing
}

func reportedError(field json.RawMessage) string {
	if len(field) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(field, &v); err != nil {
		return "analyzer reported an error"
	}
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case bool:
		if e {
			return "analyzer reported an error"
		}
		return ""
	default:
		b, err := json.Marshal(e)
		if err != nil {
			return "analyzer reported an error"
		}
		return string(b)
	}
}
