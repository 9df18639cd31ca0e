package main

import "github.com/example/tee-scheduler/cmd"

func main() {
	cmd.Execute()
}
