package main

import (
	"os"

	"github.com/hamed0406/uptimed/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
