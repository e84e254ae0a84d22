package main

import (
	"log"

	"github.com/joho/godotenv"
)

func main() {
	// TEXBRIDGE_* overrides may live in a .env next to the project
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}
	Execute()
}
