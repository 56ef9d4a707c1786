// Command lotto inspects the traces written by lotto runs.
package main

import "github.com/sarchlab/lotto/lotto/cmd"

func main() {
	cmd.Execute()
}
