// Command ashareinsight is the composition root for the CLI: archive, fuse,
// vectorize, sync-market-data and serve, each wiring the same DI container
// the HTTP server uses.
package main

import (
	"fmt"
	"os"

	"github.com/ashareinsight/ashareinsight/cmd/ashareinsight/cmd"
	"github.com/ashareinsight/ashareinsight/internal/domain"
)

// Exit codes: 0 success, 1 partial success (per-item failures already
// logged), 2 configuration or validation error, 3 unhandled fatal error.
func main() {
	err := cmd.Execute()
	if err == nil {
		os.Exit(0)
	}

	var cfgErr *domain.FatalConfigError
	var valErr *domain.ValidationError
	switch {
	case cmd.IsPartialFailure(err):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	case domain.As(err, &cfgErr), domain.As(err, &valErr):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(3)
	}
}
