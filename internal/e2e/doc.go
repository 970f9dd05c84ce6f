// Package e2e holds the end-to-end scenarios that run against a live dashboard deployment.
package e2e

import (
	"os"
	"strings"
)

// EnvironmentKeyEnabled switches the live scenarios on when set to "1".
const EnvironmentKeyEnabled = "TEST_E2E"

// Enabled reports whether the live scenarios were requested.
func Enabled() bool {
	return strings.TrimSpace(os.Getenv(EnvironmentKeyEnabled)) == "1"
}
