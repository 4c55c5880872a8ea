package main

import (
	"github.com/joho/godotenv"

	"defi-advisor/internal/cli"
)

func main() {
	// .env is optional; deployments configure via environment or config file.
	_ = godotenv.Load()

	cli.Execute()
}
