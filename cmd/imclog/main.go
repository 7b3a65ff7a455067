/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/LSTS/neptus-sub053/cmd/imclog/cmd"

func main() {
	cmd.Execute()
}
