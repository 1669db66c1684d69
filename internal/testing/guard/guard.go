// Package guard switches the process into test mode when imported, so that
// binaries started from tests skip their network side effects.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the variable read by app.InTestMode.
const EnvVar = "BIZDESK_TEST_MODE"

var once sync.Once

func init() {
	Enable()
}

// Enable sets EnvVar unless it was set explicitly.
func Enable() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
