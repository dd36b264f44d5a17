package version

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fingerprintPattern = regexp.MustCompile(`^[a-f0-9]{7,8}$`)
	releaseTagPattern  = regexp.MustCompile(`^r(\d+)$`)
	integerPattern     = regexp.MustCompile(`^\d+$`)
)

// Comparison is the outcome of comparing a reference version against a candidate.
type Comparison struct {
	UpdateNeeded bool   `json:"updateNeeded"`
	Reason       string `json:"reason"`
}

// Facts holds the three version facts gathered before an update.
// An empty field means the fact could not be determined.
type Facts struct {
	Deployed string `json:"deployed,omitempty"`
	Local    string `json:"local,omitempty"`
	Latest   string `json:"latest,omitempty"`
}

// IsNewer reports whether latest should be treated as newer than current.
//
// Rules are evaluated in order and the first match wins:
//   - a leading "v" is ignored on both sides
//   - a commit fingerprint as current is always stale
//   - r<N> against r<M> compares N and M
//   - r<N> against a bare integer compares the integers
//   - two bare integers compare numerically
//   - dotted versions compare segment by segment, zero padded
//   - anything else compares lexically
func IsNewer(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")

	if fingerprintPattern.MatchString(current) {
		return true
	}

	currentTag := releaseTagPattern.FindStringSubmatch(current)
	latestTag := releaseTagPattern.FindStringSubmatch(latest)
	if currentTag != nil && latestTag != nil {
		return compareDigits(latestTag[1], currentTag[1]) > 0
	}

	currentInt := integerPattern.MatchString(current)
	latestInt := integerPattern.MatchString(latest)
	if currentTag != nil && latestInt {
		return compareDigits(latest, currentTag[1]) > 0
	}
	if latestTag != nil && currentInt {
		return compareDigits(latestTag[1], current) > 0
	}

	if currentInt && latestInt && !strings.Contains(current, ".") && !strings.Contains(latest, ".") {
		return compareDigits(latest, current) > 0
	}

	if strings.Contains(current, ".") || strings.Contains(latest, ".") {
		return compareDotted(latest, current) > 0
	}

	return latest > current
}

// Decide picks which pair of facts to compare. Deployed wins over local; when
// neither can be compared an update is assumed so the pull step can tell.
func Decide(facts Facts) Comparison {
	if facts.Latest == "" {
		return Comparison{
			UpdateNeeded: true,
			Reason:       "latest release unknown; assuming update is needed",
		}
	}

	switch {
	case facts.Deployed != "":
		return compareFact("deployed", facts.Deployed, facts.Latest)
	case facts.Local != "":
		return compareFact("local checkout", facts.Local, facts.Latest)
	default:
		return Comparison{
			UpdateNeeded: true,
			Reason:       fmt.Sprintf("current version unknown; assuming update to %s is needed", facts.Latest),
		}
	}
}

func compareFact(label, current, latest string) Comparison {
	if IsNewer(current, latest) {
		if fingerprintPattern.MatchString(strings.TrimPrefix(current, "v")) {
			return Comparison{
				UpdateNeeded: true,
				Reason:       fmt.Sprintf("%s version %s is a commit fingerprint; updating to %s", label, current, latest),
			}
		}
		return Comparison{
			UpdateNeeded: true,
			Reason:       fmt.Sprintf("update available: %s %s -> %s", label, current, latest),
		}
	}
	return Comparison{
		UpdateNeeded: false,
		Reason:       fmt.Sprintf("already up to date: %s %s, latest %s", label, current, latest),
	}
}

// compareDigits compares two non-negative decimal strings without overflow.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) > len(b) {
			return 1
		}
		return -1
	}
	return strings.Compare(a, b)
}

func compareDotted(a, b string) int {
	left := strings.Split(a, ".")
	right := strings.Split(b, ".")
	for len(left) < len(right) {
		left = append(left, "0")
	}
	for len(right) < len(left) {
		right = append(right, "0")
	}
	for i := range left {
		if c := compareDigits(leadingDigits(left[i]), leadingDigits(right[i])); c != 0 {
			return c
		}
	}
	return 0
}

// leadingDigits returns the leading decimal run of a segment, "0" when there is none.
func leadingDigits(segment string) string {
	end := 0
	for end < len(segment) && segment[end] >= '0' && segment[end] <= '9' {
		end++
	}
	if end == 0 {
		return "0"
	}
	return segment[:end]
}
