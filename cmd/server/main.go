package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"chat-core/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	if err := app.Run(*configPath); err != nil {
		log.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
}
