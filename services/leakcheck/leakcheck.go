// Package leakcheck finds credential material in free text.
//
// Request resources, reasons and secret descriptions are stored in the ledger
// and copied into audit entries in plaintext. Credentials belong in the secret
// store, so text that looks like one is refused before it is persisted.
package leakcheck

import (
	"regexp"
	"sort"
)

// Kind names a family of credential
type Kind string

const (
	KindAWSKey           Kind = "aws_key"
	KindGCPKey           Kind = "gcp_key"
	KindPrivateKey       Kind = "private_key"
	KindJWT              Kind = "jwt"
	KindSlackToken       Kind = "slack_token"
	KindGitHubToken      Kind = "github_token"
	KindStripeKey        Kind = "stripe_key"
	KindOpenAIKey        Kind = "openai_key"
	KindDatabaseURL      Kind = "database_url"
	KindConnectionString Kind = "connection_string"
	KindPassword         Kind = "password"
	KindBearerToken      Kind = "bearer_token"
)

// Finding is one match. Only the position is kept so the credential itself is never echoed back.
type Finding struct {
	Kind  Kind `json:"kind"`
	Start int  `json:"start"`
	End   int  `json:"end"`
}

type detector struct {
	kind    Kind
	pattern *regexp.Regexp
	// group selects the submatch to report; 0 is the whole match
	group int
}

var detectors = []detector{
	{KindAWSKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0},
	{KindGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`), 0},
	{KindPrivateKey, regexp.MustCompile(`-----BEGIN\s+(?:RSA\s+|EC\s+|DSA\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`), 0},
	{KindJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`), 0},
	{KindSlackToken, regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}`), 0},
	{KindGitHubToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`), 0},
	{KindStripeKey, regexp.MustCompile(`\b(?:sk|rk)_(?:live|test)_[0-9a-zA-Z]{24,}\b`), 0},
	{KindOpenAIKey, regexp.MustCompile(`\bsk-[A-Za-z0-9]{48}\b`), 0},
	{KindDatabaseURL, regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^\s:@/'"]+:[^\s@'"]+@[^\s'"]+`), 0},
	{KindConnectionString, regexp.MustCompile(`(?i)(?:Server|Data\s+Source)=[^;]+;.*Password=[^;\s]+`), 0},
	{KindPassword, regexp.MustCompile(`(?i)\b(?:password|passwd|pwd)\s*[:=]\s*['"]?([^\s'"]{8,})`), 1},
	{KindBearerToken, regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-\.]{20,})`), 1},
}

// Scan returns every credential-looking span in text ordered by position.
// Overlapping findings are collapsed onto the earliest, longest span.
func Scan(text string) []Finding {
	var findings []Finding
	for _, d := range detectors {
		for _, m := range d.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*d.group], m[2*d.group+1]
			if start < 0 {
				continue
			}
			findings = append(findings, Finding{Kind: d.kind, Start: start, End: end})
		}
	}
	return dedupe(findings)
}

// Kinds returns the distinct credential kinds found in text, sorted
func Kinds(text string) []string {
	seen := make(map[Kind]struct{})
	for _, f := range Scan(text) {
		seen[f.Kind] = struct{}{}
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}

// Contains reports whether text holds anything that looks like a credential
func Contains(text string) bool {
	for _, d := range detectors {
		if d.pattern.MatchString(text) {
			return true
		}
	}
	return false
}

func dedupe(findings []Finding) []Finding {
	if len(findings) < 2 {
		return findings
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Start != findings[j].Start {
			return findings[i].Start < findings[j].Start
		}
		return findings[i].End > findings[j].End
	})

	out := findings[:1]
	for _, f := range findings[1:] {
		last := &out[len(out)-1]
		if f.Start < last.End {
			if f.End > last.End {
				last.End = f.End
			}
			continue
		}
		out = append(out, f)
	}
	return out
}
