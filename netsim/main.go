// Package main runs the netsim command-line tool.
package main

import "github.com/XinWenfei/netsim/netsim/cmd"

func main() {
	cmd.Execute()
}
