package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"automatosx/internal/cli"
	"automatosx/internal/errs"
	"automatosx/pkg/logger"
)

// Exit codes: 0 success, 1 failure, 124 timeout.
const exitTimeout = 124

func main() {
	rootCmd := cli.NewRootCmd()
	err := rootCmd.ExecuteContext(context.Background())
	logger.Close()
	if err == nil {
		return
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var typed *errs.Error
	if errors.As(err, &typed) && len(typed.Suggestions) > 0 {
		fmt.Fprintln(os.Stderr, "\nSuggestions:")
		for _, s := range typed.Suggestions {
			fmt.Fprintf(os.Stderr, "  - %s\n", s)
		}
	}

	if errs.CodeOf(err) == errs.CodeProviderTimeout || errors.Is(err, context.DeadlineExceeded) {
		os.Exit(exitTimeout)
	}
	os.Exit(1)
}
