package config

import (
	"strings"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("BLAZEALERT_TEST_SET", "value")

	tests := []struct {
		in, want string
	}{
		{"${BLAZEALERT_TEST_SET}", "value"},
		{"${BLAZEALERT_TEST_UNSET}", ""},
		{"${BLAZEALERT_TEST_UNSET:-fallback}", "fallback"},
		{"${BLAZEALERT_TEST_SET:-fallback}", "value"},
		{"host: ${BLAZEALERT_TEST_UNSET:-localhost}:9000", "host: localhost:9000"},
		{"$BLAZEALERT_TEST_SET", "$BLAZEALERT_TEST_SET"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandEnv(tt.in); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVersionString(t *testing.T) {
	if !strings.HasPrefix(VersionString(), "blazealert "+Version) {
		t.Errorf("unexpected version string %q", VersionString())
	}
	if GetBuildInfo().GoVersion == "" {
		t.Error("go version missing from build info")
	}
}
