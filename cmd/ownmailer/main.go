package main

import (
	"github.com/pixelvide/ownmailer/pkg/root"

	_ "github.com/pixelvide/ownmailer/pkg/console" // Register commands
)

func main() {
	root.Execute()
}
