// Command flowctl administers a patient flow deployment: schema migrations,
// facility seeding, daily PINs and manual admission ticks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
