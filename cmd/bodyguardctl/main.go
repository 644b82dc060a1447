// bodyguardctl is the command line client for a bodyguard server.
package main

import "github.com/linnemanlabs/bodyguard/internal/cli"

func main() {
	cli.Execute()
}
