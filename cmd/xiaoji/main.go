package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/xiaoji/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	go autorestart.RestartOnChange()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "xiaoji:", err)
		os.Exit(1)
	}
}
