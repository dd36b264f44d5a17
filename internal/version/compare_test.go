package version

import (
	"strconv"
	"strings"
	"testing"
)

func TestIsNewer(t *testing.T) {
	cases := []struct {
		name    string
		current string
		latest  string
		want    bool
	}{
		{name: "fingerprint always stale", current: "a1b2c3d", latest: "r1", want: true},
		{name: "fingerprint eight chars", current: "deadbeef", latest: "deadbeef", want: true},
		{name: "fingerprint with v prefix", current: "v0abc123", latest: "0abc123", want: true},
		{name: "uppercase hex is not a fingerprint", current: "A1B2C3D", latest: "A1B2C3D", want: false},
		{name: "release tags newer", current: "r45", latest: "r48", want: true},
		{name: "release tags older", current: "r48", latest: "r45", want: false},
		{name: "release tags equal", current: "r48", latest: "r48", want: false},
		{name: "release tags numeric not lexical", current: "r9", latest: "r10", want: true},
		{name: "release tag vs integer", current: "r45", latest: "46", want: true},
		{name: "integer vs release tag", current: "47", latest: "r46", want: false},
		{name: "integer vs release tag newer", current: "12", latest: "r13", want: true},
		{name: "bare integers", current: "9", latest: "10", want: true},
		{name: "bare integers equal", current: "10", latest: "10", want: false},
		{name: "dotted patch", current: "1.2.3", latest: "1.2.10", want: true},
		{name: "dotted minor", current: "1.10.0", latest: "1.9.9", want: false},
		{name: "dotted zero padding", current: "1.2", latest: "1.2.0", want: false},
		{name: "dotted zero padding reversed", current: "1.2.0", latest: "1.2", want: false},
		{name: "dotted with v prefix", current: "v1.2.3", latest: "v1.3.0", want: true},
		{name: "dotted non numeric segment", current: "1.x.0", latest: "1.0.1", want: true},
		{name: "dotted against integer", current: "2", latest: "1.9", want: false},
		{name: "lexical fallback", current: "alpha", latest: "beta", want: true},
		{name: "lexical fallback older", current: "beta", latest: "alpha", want: false},
		{name: "lexical equal", current: "stable", latest: "stable", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNewer(tc.current, tc.latest); got != tc.want {
				t.Fatalf("IsNewer(%q, %q) = %v, want %v", tc.current, tc.latest, got, tc.want)
			}
		})
	}
}

func TestIsNewer_ReleaseTagsMatchIntegerOrder(t *testing.T) {
	for n := 0; n < 30; n++ {
		for m := 0; m < 30; m++ {
			current := "r" + strconv.Itoa(n)
			latest := "r" + strconv.Itoa(m)
			if got := IsNewer(current, latest); got != (m > n) {
				t.Fatalf("IsNewer(%q, %q) = %v, want %v", current, latest, got, m > n)
			}
		}
	}
}

func TestIsNewer_ReflexiveExceptFingerprints(t *testing.T) {
	values := []string{"r48", "48", "1.2.3", "v2.0", "release-candidate", "", "1234567a"}
	for _, value := range values {
		got := IsNewer(value, value)
		want := fingerprintPattern.MatchString(strings.TrimPrefix(value, "v"))
		if got != want {
			t.Fatalf("IsNewer(%q, %q) = %v, want %v", value, value, got, want)
		}
	}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name       string
		facts      Facts
		wantNeeded bool
		wantReason string
	}{
		{
			name:       "deployed preferred over local",
			facts:      Facts{Deployed: "r48", Local: "r40", Latest: "r48"},
			wantNeeded: false,
			wantReason: "deployed",
		},
		{
			name:       "local used when deployed unknown",
			facts:      Facts{Local: "r45", Latest: "r48"},
			wantNeeded: true,
			wantReason: "local checkout",
		},
		{
			name:       "nothing known assumes update",
			facts:      Facts{Latest: "r48"},
			wantNeeded: true,
			wantReason: "current version unknown",
		},
		{
			name:       "latest unknown assumes update",
			facts:      Facts{Deployed: "r48"},
			wantNeeded: true,
			wantReason: "latest release unknown",
		},
		{
			name:       "fingerprint deployed",
			facts:      Facts{Deployed: "abc1234", Latest: "r48"},
			wantNeeded: true,
			wantReason: "commit fingerprint",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.facts)
			if got.UpdateNeeded != tc.wantNeeded {
				t.Fatalf("UpdateNeeded = %v, want %v (%s)", got.UpdateNeeded, tc.wantNeeded, got.Reason)
			}
			if !strings.Contains(got.Reason, tc.wantReason) {
				t.Fatalf("reason %q does not mention %q", got.Reason, tc.wantReason)
			}
		})
	}
}
