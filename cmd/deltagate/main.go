package main

import "github.com/vegasq/deltagate/cmd"

func main() {
	cmd.Execute()
}
