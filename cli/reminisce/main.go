package main

import (
	"os"

	reminiscecmder "github.com/papercomputeco/reminisce/cmd/reminisce"
)

func main() {
	cmd := reminiscecmder.NewReminisceCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
