package main

import (
	"fmt"
	"os"

	"github.com/turtacn/telemos/internal/cli"
	"github.com/turtacn/telemos/pkg/logger"
)

// version is replaced at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			if logger.Log != nil {
				logger.Log.Error("telemos aborted by panic", "panic", r)
			} else {
				fmt.Fprintf(os.Stderr, "telemos aborted by panic: %v\n", r)
			}
			os.Exit(2)
		}
	}()

	cli.Version = version
	cli.Execute()
}

// Personal.AI order the ending
