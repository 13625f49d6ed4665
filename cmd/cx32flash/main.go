// Command cx32flash drives a CX32L003 flash controller: directly against
// the simulated part, or through the I2C register bridge.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
