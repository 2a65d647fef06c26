package main

import "os"

//go:noinline
func answer(n int) int { return n*6 + 36 }

func main() {
	os.Exit(answer(len(os.Args)) & 1)
}
