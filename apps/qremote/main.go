package main

import "github.com/quatton/qremote/apps/qremote/cmd"

func main() {
	cmd.Execute()
}
