package detection

import (
	"fmt"
	"strings"
)

// Per-check classification reported by the detection engine.
type Classification string

const (
	Spam    Classification = "spam"
	Ham     Classification = "ham"
	Review  Classification = "review"
	Malware Classification = "malware"
)

func ParseClassification(raw string) (Classification, error) {
	switch c := Classification(strings.ToLower(strings.TrimSpace(raw))); c {
	case Spam, Ham, Review, Malware:
		return c, nil
	default:
		return "", fmt.Errorf("unknown check classification: %q", raw)
	}
}

func (c *Classification) UnmarshalText(b []byte) error {
	v, err := ParseClassification(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Well-known check names. Matching is always case-insensitive.
const (
	CheckURLBlocklist  = "UrlBlocklist"
	CheckOpenAI        = "OpenAI"
	CheckFileScanning  = "FileScanning"
	CheckStopWords     = "StopWords"
	CheckCAS           = "CAS"
	CheckSimilarity    = "Similarity"
	CheckBayes         = "Bayes"
	CheckThreatIntel   = "ThreatIntel"
	CheckInvisibleChar = "InvisibleChars"
)

type CheckResult struct {
	CheckName string         `json:"checkName"`
	Result    Classification `json:"result"`
	// 0-100
	Confidence int    `json:"confidence"`
	Details    string `json:"details,omitempty"`
}

// Output of the detection engine for a single message. Read-only once produced.
type ContentDetectionResult struct {
	IsSpam bool `json:"isSpam"`
	// Signed aggregate over all checks; positive favors spam.
	NetConfidence int           `json:"netConfidence"`
	MaxConfidence int           `json:"maxConfidence"`
	CheckResults  []CheckResult `json:"checkResults"`
	// Free-form summary from the engine, carried into review reports.
	Details string `json:"details,omitempty"`
}

// Returns the check results, treating a missing collection as empty.
func (r *ContentDetectionResult) Results() []CheckResult {
	if r == nil || r.CheckResults == nil {
		return []CheckResult{}
	}
	return r.CheckResults
}

// Finds the first check result with the given name (case-insensitive), or nil.
func (r *ContentDetectionResult) Check(name string) *CheckResult {
	for i, cr := range r.Results() {
		if strings.EqualFold(cr.CheckName, name) {
			return &r.CheckResults[i]
		}
	}
	return nil
}

// Whether any check reported the given classification.
func (r *ContentDetectionResult) Any(c Classification) bool {
	for _, cr := range r.Results() {
		if cr.Result == c {
			return true
		}
	}
	return false
}

// Multi-line rendering of every check, for reports and notifications.
func (r *ContentDetectionResult) Summary() string {
	if r == nil {
		return "(no detection result)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "net=%d max=%d spam=%t\n", r.NetConfidence, r.MaxConfidence, r.IsSpam)
	for _, cr := range r.Results() {
		fmt.Fprintf(&b, "- %s: %s (%d)", cr.CheckName, cr.Result, cr.Confidence)
		if cr.Details != "" {
			fmt.Fprintf(&b, " %s", cr.Details)
		}
		b.WriteString("\n")
	}
	if r.Details != "" {
		b.WriteString(r.Details)
		b.WriteString("\n")
	}
	return b.String()
}
