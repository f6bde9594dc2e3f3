package main

import "github.com/ngld/xverify/cmd"

func main() {
	cmd.Execute()
}
