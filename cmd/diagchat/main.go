package main

import (
	"os"

	"github.com/groexpert13/sheet/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
