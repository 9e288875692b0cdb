/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "miniroute/cmd"

func main() {
	cmd.Execute()
}
