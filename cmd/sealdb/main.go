package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tuannm99/sealdb/internal/cli"
)

func main() {
	err := cli.Execute(context.Background(), os.Stdout, os.Args[1:])
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "sealdb: %v\n", err)
	var withExitCode interface{ ExitCode() int }
	if errors.As(err, &withExitCode) {
		os.Exit(withExitCode.ExitCode())
	}
	os.Exit(1)
}
