package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/qremote/apps/qremotectl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "qremotectl crashed: %v\n", r)
			if os.Getenv("QREMOTE_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
