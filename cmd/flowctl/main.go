// Command flowctl inspects transition tables and the audit trail of a
// single-node campaignflow deployment.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
