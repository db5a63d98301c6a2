package ingest

import (
	"testing"

	"go.uber.org/goleak"
)

// Run drives its batch-commit/retry loop synchronously in the caller's
// goroutine, so a clean test suite here should leave nothing behind.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
