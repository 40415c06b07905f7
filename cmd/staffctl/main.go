package main

import "github.com/terraconstructs/staffgrid/cmd/staffctl/cmd"

func main() {
	cmd.Execute()
}
