package version

import "testing"

func TestString(t *testing.T) {
	v, sha, bt := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = v, sha, bt })

	Version, GitSHA, BuildTime = "v1.2.0", "abc123", "2024-01-02"
	if got, want := String(), "v1.2.0 (abc123, built 2024-01-02)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
