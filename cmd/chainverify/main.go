// Command chainverify is the operator-facing CLI: submit a contract for
// user-driven verification, or run the chain monitor in the foreground.
package main

import "github.com/chainverify/chainverify/cmd/chainverify/cmd"

func main() {
	cmd.Execute()
}
