// Package guard switches the process into test mode when imported, so
// packages that build the full router skip request logging and external
// connections.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "POTATO_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
