package main

import "github.com/drgolem/spatialaudio/cmd"

func main() {
	cmd.Execute()
}
