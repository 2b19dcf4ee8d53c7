// main.go - Entry point of the rastertiles command
package main

import "github.com/valpere/rastertiles/cmd"

func main() {
	cmd.Execute()
}
