package main

import "github.com/ngld/knossos/packages/pio-hooks/cmd"

func main() {
	cmd.Execute()
}
