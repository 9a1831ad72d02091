package main

import (
	"github.com/joho/godotenv"

	"github.com/docsage/docsage/cmd"
)

func main() {
	// A missing .env is fine; real deployments configure via environment.
	_ = godotenv.Load()
	cmd.Execute()
}
