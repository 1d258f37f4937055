package main

import "fmt"

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.2.3" ./cmd/conveyor/
var version = "dev"

func printVersion() {
	fmt.Println(version)
}
