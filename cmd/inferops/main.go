// Command inferops runs cached, circuit-protected text analysis against an
// inference provider.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
