//go:build tools

// Package presencerelay declares tool dependencies for this module. The
// imports keep mockgen, invoked through go generate, pinned in go.mod.
package presencerelay

import (
	_ "go.uber.org/mock/mockgen"
)
