package main

import "github.com/chrischoy/MediaWhisperer/cmd"

func main() {
	cmd.Execute()
}
