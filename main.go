package main

import "github.com/rand/gatsweep/internal/cmd"

func main() {
	cmd.Execute()
}
