package main

import "github.com/matchatime/sessiond/cmd"

func main() {
	cmd.Execute()
}
