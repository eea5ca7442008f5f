package analyzer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalReport = `{"overall_score":64,"overall_grade":"D",` +
	`"total_checks":3,"total_passed":2,"total_failed":1,"total_critical":0,` +
	`"category_results":{},"recommendations":[]`

// report closes minimalReport after appending extra members.
func report(extra string) string {
	if extra == "" {
		return minimalReport + "}"
	}
	return minimalReport + "," + extra + "}"
}

func TestParseOutput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		stdout   string
		kind     Kind
		contains string
	}{
		{name: "empty", stdout: "  \n", kind: KindParse},
		{name: "not json", stdout: "Traceback", kind: KindParse, contains: "not valid JSON"},
		{name: "null", stdout: "null", kind: KindParse, contains: "not a JSON object"},
		{name: "array", stdout: `[{"overall_score":50}]`, kind: KindParse, contains: "not a JSON object"},
		{name: "empty object", stdout: "{}", kind: KindInvalid, contains: "overall_score, overall_grade"},
		{name: "grade only", stdout: `{"overall_grade":"B"}`, kind: KindInvalid, contains: "overall_score"},
		{
			name:     "null score",
			stdout:   strings.Replace(report(""), `"overall_score":64`, `"overall_score":null`, 1),
			kind:     KindInvalid,
			contains: "overall_score",
		},
		{
			name:     "missing totals",
			stdout:   `{"overall_score":50,"overall_grade":"F","category_results":{},"recommendations":[]}`,
			kind:     KindInvalid,
			contains: "total_checks, total_passed, total_failed, total_critical",
		},
		{name: "error string", stdout: `{"error":"timeout fetching robots.txt"}`, kind: KindReported, contains: "robots.txt"},
		{name: "error object", stdout: `{"error":{"code":7}}`, kind: KindReported, contains: `"code":7`},
		{name: "wrong types", stdout: `{"overall_score":"high"}`, kind: KindParse},
		{name: "categories not object", stdout: strings.Replace(report(""), `"category_results":{}`, `"category_results":[1,2]`, 1), kind: KindParse},
		{
			name:     "bad severity",
			stdout:   strings.Replace(report(""), `"recommendations":[]`, `"recommendations":[{"severity":"urgent"}]`, 1),
			kind:     KindInvalid,
			contains: "urgent",
		},
		{name: "negative count", stdout: report(`"pages_crawled":-1`), kind: KindInvalid, contains: "pages_crawled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseOutput([]byte(tc.stdout))
			var invErr *InvocationError
			require.True(t, errors.As(err, &invErr), "got %v", err)
			require.Equal(t, tc.kind, invErr.Kind)
			require.NotEmpty(t, invErr.Error())
			require.Contains(t, invErr.Error(), tc.contains)
		})
	}
}

func TestParseOutputAcceptsNullErrorField(t *testing.T) {
	t.Parallel()

	out, err := ParseOutput([]byte(report(`"error": null`)))
	require.NoError(t, err)
	require.Equal(t, 64, out.Report.OverallScore)
	require.Equal(t, "D", out.Report.OverallGrade)
	require.Empty(t, out.Report.Recommendations)
	require.Zero(t, out.Report.PagesCrawled)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", KindOf(nil))
	require.Equal(t, "error", KindOf(errors.New("x")))
	require.Equal(t, "timeout", KindOf(&InvocationError{Kind: KindTimeout}))
}
