package main

import (
	"github.com/joho/godotenv"

	"github.com/listenlab/multiscribe/internal/bootstrap"
)

func main() {
	_ = godotenv.Load()
	bootstrap.Run()
}
