package extract

import (
	"regexp"
	"strings"
	"time"

	"deskmate/internal/domain"
)

var (
	issueKeyRe     = regexp.MustCompile(`\b([A-Z][A-Z0-9]{1,9}-\d+)\b`)
	emailRe        = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9\-]+(?:\.[a-z0-9\-]+)*\.[a-z]{2,}\b`)
	isoDateRe      = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	relativeDateRe = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|yesterday|(?:this|next|last) (?:week|month))\b`)
	weekdayRe      = regexp.MustCompile(`(?i)\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	monthDayRe     = regexp.MustCompile(`(?i)\b((?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2}(?:st|nd|rd|th)?(?:,? \d{4})?)\b`)
	doubleQuoteRe  = regexp.MustCompile(`("[^"\n]+")`)
	singleQuoteRe  = regexp.MustCompile(`(?:^|\s)('[^'\n]+')(?:$|[\s.,!?;:])`)
	namespaceRe    = regexp.MustCompile(`(?i)(?:^|\s)(?:-n\s+|--namespace[=\s]\s*|namespace\s+)([a-z0-9](?:[-a-z0-9]*[a-z0-9])?)\b`)
	prWordRe       = regexp.MustCompile(`(?i)\b(?:pr|pull request)\s+#?(\d+)\b`)
	prHashRe       = regexp.MustCompile(`(?:^|\s)(#\d+)\b`)
	repositoryRe   = regexp.MustCompile(`(?:^|\s)([A-Za-z][\w-]*/[\w-]+(?:\.[\w-]+)*)(?:$|[\s,!?;:]|\.(?:\s|$))`)
	identifierRe   = regexp.MustCompile(`\b(\d[\d-]*\d)\b`)
)

// namespaceStopwords are words that follow "namespace" in prose without
// naming one ("which namespace is it in").
var namespaceStopwords = map[string]bool{
	"is": true, "are": true, "was": true, "the": true, "a": true, "an": true,
	"to": true, "for": true, "of": true, "with": true, "and": true, "or": true,
	"in": true, "on": true, "that": true, "this": true, "it": true,
}

// resourceKinds look like "owner/repo" but are cluster "kind/name" references.
var resourceKinds = map[string]bool{
	"pod": true, "pods": true, "po": true, "deploy": true, "deployment": true, "deployments": true,
	"svc": true, "service": true, "services": true, "node": true, "nodes": true, "ns": true,
	"job": true, "jobs": true, "cm": true, "configmap": true, "secret": true, "route": true,
	"statefulset": true, "daemonset": true, "replicaset": true, "rs": true, "ds": true, "sts": true,
}

// DefaultRecognizers returns the shared recognizers in priority order:
// issue keys, emails, dates, quoted names, namespaces, pull requests,
// repositories and finally bare numeric identifiers.
func DefaultRecognizers() []Recognizer {
	return []Recognizer{
		{Kind: domain.EntityIssueKey, Pattern: issueKeyRe, Group: 1, Normalize: upper},
		{Kind: domain.EntityEmail, Pattern: emailRe, Normalize: lower},
		{Kind: domain.EntityDate, Pattern: isoDateRe, Group: 1, Normalize: isoDate},
		{Kind: domain.EntityDate, Pattern: relativeDateRe, Group: 1, Normalize: relativeDate},
		{Kind: domain.EntityDate, Pattern: weekdayRe, Group: 1, Normalize: lower},
		{Kind: domain.EntityDate, Pattern: monthDayRe, Group: 1, Normalize: monthDay},
		{Kind: domain.EntityQuoted, Pattern: doubleQuoteRe, Group: 1, Normalize: unquote},
		{Kind: domain.EntityQuoted, Pattern: singleQuoteRe, Group: 1, Normalize: unquote},
		{Kind: domain.EntityNamespace, Pattern: namespaceRe, Group: 1, Normalize: namespace},
		{Kind: domain.EntityPRNumber, Pattern: prWordRe, Group: 1},
		{Kind: domain.EntityPRNumber, Pattern: prHashRe, Group: 1, Normalize: func(s string) (string, bool) {
			return strings.TrimPrefix(s, "#"), true
		}},
		{Kind: domain.EntityRepository, Pattern: repositoryRe, Group: 1, Normalize: repository},
		{Kind: domain.EntityIdentifier, Pattern: identifierRe, Group: 1, Normalize: identifier},
	}
}

func lower(s string) (string, bool) { return strings.ToLower(s), true }

func upper(s string) (string, bool) { return strings.ToUpper(s), true }

func isoDate(s string) (string, bool) {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}

func relativeDate(s string) (string, bool) {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_"), true
}

var monthDayLayouts = []struct {
	layout string
	out    string
}{
	{"January 2, 2006", "2006-01-02"},
	{"January 2 2006", "2006-01-02"},
	{"Jan 2, 2006", "2006-01-02"},
	{"Jan 2 2006", "2006-01-02"},
	{"January 2", "--01-02"},
	{"Jan 2", "--01-02"},
}

var ordinalSuffixRe = regexp.MustCompile(`(\d)(?:st|nd|rd|th)\b`)

// monthDay parses "March 15", "mar 15th" or "Mar 15, 2025". Dates without
// a year normalize to the ISO 8601 "--MM-DD" form.
func monthDay(s string) (string, bool) {
	clean := ordinalSuffixRe.ReplaceAllString(strings.ToLower(s), "$1")
	clean = strings.Replace(clean, ".", "", 1)
	if clean != "" {
		clean = strings.ToUpper(clean[:1]) + clean[1:]
	}
	if strings.HasPrefix(clean, "Sept") {
		clean = "Sep" + strings.TrimPrefix(clean, "Sept")
	}
	for _, l := range monthDayLayouts {
		if t, err := time.Parse(l.layout, clean); err == nil {
			return t.Format(l.out), true
		}
	}
	return "", false
}

// identifier rejects dash-joined digit runs such as an impossible
// 2024-02-30, which are dates or phone numbers rather than IDs.
func identifier(s string) (string, bool) {
	return s, !strings.Contains(s, "-")
}

func unquote(s string) (string, bool) {
	v := strings.TrimSpace(strings.Trim(s, `"'`))
	return v, v != ""
}

func namespace(s string) (string, bool) {
	v := strings.ToLower(s)
	if namespaceStopwords[v] {
		return "", false
	}
	return v, true
}

func repository(s string) (string, bool) {
	owner, repo, ok := strings.Cut(s, "/")
	if !ok || owner == "" || repo == "" {
		return "", false
	}
	if resourceKinds[strings.ToLower(owner)] || strings.EqualFold(s, "and/or") {
		return "", false
	}
	if !strings.ContainsFunc(repo, isLetter) {
		return "", false
	}
	return s, true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
