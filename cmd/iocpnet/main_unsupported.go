//go:build !windows

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "iocpnet requires an I/O completion port capable platform (Windows)")
	os.Exit(1)
}
