//go:build tools

// Development tools pinned in go.mod. Install them with: make install-tools
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
)
