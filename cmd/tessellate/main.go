package main

import "github.com/visekai/tessellate/cmd/tessellate/cmd"

func main() {
	cmd.Execute()
}
