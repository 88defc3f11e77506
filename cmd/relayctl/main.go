// Package main is the relay operator CLI.
package main

import "github.com/aura-webinar/liverelay/internal/relayctl"

func main() {
	relayctl.Main()
}
