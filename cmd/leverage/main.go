package main

import (
	"os"

	"horse.fit/leverage/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
