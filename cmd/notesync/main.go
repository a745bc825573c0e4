package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/codenotes/notesync/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.Main(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
