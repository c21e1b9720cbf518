// Package main is the entry point for plume.
package main

func main() {
	Execute()
}
