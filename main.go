package main

import (
	"farescope/cmd"
)

func main() {
	cmd.Execute()
}
