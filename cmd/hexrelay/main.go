package main

import "github.com/julienstroheker/HexRelay/gateway/cmd"

func main() {
	cmd.Execute()
}
