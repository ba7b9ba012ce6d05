package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BDNK1/blockflow/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		code := 1
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}
		if err.Error() != "" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(code)
	}
}
