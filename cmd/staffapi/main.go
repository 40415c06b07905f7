package main

import "github.com/terraconstructs/staffgrid/cmd/staffapi/cmd"

func main() {
	cmd.Execute()
}
