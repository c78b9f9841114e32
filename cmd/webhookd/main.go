package main

import (
	"fmt"
	"os"
)

/* webhookd is the single binary of the service. The composition root lives
 * here: every other package receives its dependencies, none build their own.
 */

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
