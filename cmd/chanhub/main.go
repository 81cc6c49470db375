package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/chanhub/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Restart when the binary is rebuilt; meant for development only.
	if os.Getenv("CHANHUB_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
