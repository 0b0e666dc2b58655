package main

import "github.com/keithlinneman/linnemanlabs-damproxy/internal/cli"

func main() {
	cli.Execute()
}
