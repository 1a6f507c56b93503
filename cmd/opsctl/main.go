// opsctl is a helper CLI for exercising a running opsguard server:
// raise a simulated alert, approve or escalate a pending fix, and list
// incidents.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
