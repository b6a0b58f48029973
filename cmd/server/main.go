// Package main is the entry point for the legatoctl API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/james-see/legatoctl/pkg/api"
	"github.com/james-see/legatoctl/pkg/host"
)

func main() {
	port := flag.Int("port", 8080, "Server port")
	debug := flag.Bool("debug", false, "Log every request")
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	opts := host.DefaultOptions()
	opts.Logger = log
	engine, err := host.NewLive(host.Discard, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine error: %v\n", err)
		os.Exit(1)
	}
	go func() { _ = engine.Run(context.Background()) }()

	fmt.Printf("Starting legatoctl API server on port %d...\n", *port)
	fmt.Printf("Swagger docs available at http://localhost:%d/swagger/index.html\n", *port)

	if err := api.NewServer(engine, opts, log).Run(*port); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
