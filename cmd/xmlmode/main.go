// Command xmlmode reports whether XML documents are validated by DTD or by
// XML Schema.
//
// Usage:
//
//	xmlmode detect beans.xml config/other.xml
//	xmlmode scan ./config --pattern '**.xml'
//	xmlmode watch ./config
//	xmlmode --zip app.jar scan
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runWithArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func runWithArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errDetectionFailed) {
			return 1
		}
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	return 0
}
