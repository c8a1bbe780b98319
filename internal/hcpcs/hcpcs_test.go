package hcpcs

import (
	"testing"
)

func TestNormalizeCodes(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  []string
	}{
		{
			name:  "trims uppercases and dedupes",
			input: []string{"99213", " 99213 ", "abc12"},
			want:  []string{"99213", "ABC12"},
		},
		{
			name:  "drops empty values",
			input: []string{"", "   ", "j1100"},
			want:  []string{"J1100"},
		},
		{
			name:  "sorts deterministically",
			input: []string{"g0008", "A4253", "99214", "a4253"},
			want:  []string{"99214", "A4253", "G0008"},
		},
		{
			name:  "empty input",
			input: nil,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCodes(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("NormalizeCodes(%q) = %q, want %q", tt.input, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("NormalizeCodes(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFailOpen(t *testing.T) {
	r := FailOpen("")
	if !r.IsValid {
		t.Error("fail-open verdict must be valid")
	}
	if r.ValidatedBy != ValidatedByFailed {
		t.Errorf("ValidatedBy = %q, want %q", r.ValidatedBy, ValidatedByFailed)
	}
	if r.Status != StatusManualReview {
		t.Errorf("Status = %q, want %q", r.Status, StatusManualReview)
	}
	if r.Cacheable() {
		t.Error("fail-open verdict must not be cacheable")
	}
}

func TestResult_Cacheable(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   bool
	}{
		{"valid from provider", Result{IsValid: true, Status: StatusValid, ValidatedBy: "openai"}, true},
		{"invalid from provider", Result{Status: StatusInvalid, ValidatedBy: "openai"}, true},
		{"manual review", Result{IsValid: true, Status: StatusManualReview, ValidatedBy: "openai"}, false},
		{"quota placeholder", Result{IsValid: true, Status: StatusQuotaExceeded, ValidatedBy: ValidatedByFailed}, false},
		{"no provenance", Result{IsValid: true, Status: StatusValid}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Cacheable(); got != tt.want {
				t.Errorf("Cacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_IsLegacy(t *testing.T) {
	if !(Entry{Code: "99213", Legacy: true}).IsLegacy() {
		t.Error("tagged entry should be legacy")
	}
	if (Entry{Code: "99213", IsValid: true, ValidatedBy: "local"}).IsLegacy() {
		t.Error("untagged entry without a model should not be legacy")
	}
	if !(Entry{Code: "99213", IsValid: true}).MissingProvenance() {
		t.Error("entry without provenance should need migration")
	}
	if !(Entry{ValidatedBy: LegacyValidatedBy, Model: LegacyModel}).IsLegacy() {
		t.Error("migrated entry should be legacy")
	}
	if (Entry{ValidatedBy: "perplexity", Model: "sonar"}).IsLegacy() {
		t.Error("entry with provenance should be modern")
	}
}

func TestEntry_ResultRoundTrip(t *testing.T) {
	res := Result{IsValid: false, Status: StatusInvalid, Reason: "not a code", InvalidReason: "unknown", ValidatedBy: "openai", Model: "gpt-4o-mini"}
	back := res.Entry("ABC12").Result()
	if back != res {
		t.Errorf("round trip = %+v, want %+v", back, res)
	}
}
