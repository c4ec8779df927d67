package main

import (
	"context"
	"log"

	"github.com/souzou-notes/souzou/internal/client/cli"
	"github.com/souzou-notes/souzou/internal/client/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
