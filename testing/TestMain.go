// Package testing is blank-imported by tests that exercise app wiring. It switches the process
// into test mode and keeps config-built loggers quiet.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var setup sync.Once

func enableTestMode() {
	setup.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if _, ok := os.LookupEnv("LOG_LEVEL"); !ok {
			_ = os.Setenv("LOG_LEVEL", "error")
		}
	})
}

func init() {
	enableTestMode()
}

// TestMain lets packages delegate their test entry point here.
func TestMain(m *stdtesting.M) {
	enableTestMode()
	os.Exit(m.Run())
}
