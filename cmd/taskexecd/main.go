// Command taskexecd runs an executor with scheduled tasks described by a
// config file, controlled through process signals.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
