package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/archon-labs/docbrain/internal/adapters/driving/cli"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	// Provider API keys may live in a local .env file.
	_ = godotenv.Load()

	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
