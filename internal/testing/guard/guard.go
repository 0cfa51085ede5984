// Package guard switches binaries into test mode when imported by tests, so
// calling main does not dial PostgreSQL or Redis.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "FORGELINE_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
