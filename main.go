package main

import (
	"log"

	"fleetgate/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to initialize the gateway: %s", err)
	}
	application.Start(application.Config.ListenAddr)
}
