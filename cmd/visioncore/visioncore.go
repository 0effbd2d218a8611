package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/visioncore/visioncore/server"
	"github.com/visioncore/visioncore/server/config"
	"github.com/visioncore/visioncore/server/nnload"
	"github.com/visioncore/visioncore/server/rtc"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("visioncore", "Edge camera analysis and stream publisher")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON config file", Default: ""})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Sqlite config database", Default: "visioncore.sqlite"})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen port", Default: ":8080"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		check(err)
	}

	srv, err := server.NewServer(logger, cfg, *dbFile, nnload.DefaultLoader, nil, rtc.NewPionPublisher)
	check(err)
	check(srv.Start())
	srv.ListenForKillSignals()
	err = srv.ListenHTTP(*port)
	logger.Infof("ListenHTTP returned: %v", err)
}
