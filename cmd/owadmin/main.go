package main

import (
	"context"
	"log"
	"os"

	"github.com/orgware/owconnect/internal/admin"
)

func main() {
	cfg, args, err := admin.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	app := admin.NewApp(cfg, os.Stdin, os.Stdout)
	if err := app.Run(context.Background(), args); err != nil {
		log.Fatalf("%v", err)
	}
}
