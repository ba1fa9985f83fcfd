package main

import "github.com/jmehdipour/webhook-delivery/cmd"

func main() {
	cmd.Execute()
}
