package testutil

import (
	"os"
	"testing"
)

// SkipUnlessEnv skips the test unless the named environment variable is set.
// Used to gate integration tests that need external services.
func SkipUnlessEnv(t *testing.T, name string) string {
	t.Helper()

	v := os.Getenv(name)
	if v == "" {
		t.Skipf("set %s to run this test", name)
	}
	return v
}
