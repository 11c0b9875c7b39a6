package incident

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Rank orders severities for display, critical first. Unknown values sort
// after the known set.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

func NormalizeSeverity(raw string) Severity {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	if s.Valid() {
		return s
	}
	// Preserve what the feed sent; callers rank it as unknown.
	return Severity(strings.TrimSpace(raw))
}

// Record is the strict shape every component past the feed boundary works
// with. RemoteKey and DisplayID are immutable once set; the descriptive
// fields track whatever the feed last sent.
type Record struct {
	RemoteKey   string   `json:"remote_key"`
	DisplayID   string   `json:"display_id,omitempty"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Status      string   `json:"status"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	OccurredAt  int64    `json:"occurred_at"` // unix milliseconds
	Fingerprint string   `json:"fingerprint"`
}

func (r Record) OccurredAtTime() time.Time {
	return time.UnixMilli(r.OccurredAt)
}

// ComputeFingerprint hashes the mutable payload so a re-sent unchanged record
// can be told apart from a genuine update.
func ComputeFingerprint(r Record) string {
	var b strings.Builder
	b.WriteString(r.Type)
	b.WriteByte(0)
	b.WriteString(string(r.Severity))
	b.WriteByte(0)
	b.WriteString(r.Status)
	b.WriteByte(0)
	b.WriteString(r.Location)
	b.WriteByte(0)
	b.WriteString(r.Description)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(r.OccurredAt, 10))
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
