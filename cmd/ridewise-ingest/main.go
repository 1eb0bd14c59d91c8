package main

import (
	"os"

	"github.com/ridewise-ai/ridewise/cmd/ridewise-ingest/commands"
)

func main() {
	os.Exit(commands.Execute())
}
