package settings

import "testing"

func TestLanguageCode(t *testing.T) {
	tests := []struct {
		language string
		want     string
	}{
		{"english", "en"},
		{"Spanish", "es"},
		{"  French  ", "fr"},
		{"en-GB", "en-GB"}, // codes pass through
		{"klingon", "klingon"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := LanguageCode(tc.language); got != tc.want {
			t.Errorf("LanguageCode(%q) = %q, want %q", tc.language, got, tc.want)
		}
	}
}
