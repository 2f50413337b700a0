// Copyright 2017 Keydap. All rights reserved.
// Licensed under the Apache License, Version 2.0, see LICENSE.
package main

import (
	"flag"
	logger "github.com/juju/loggo"
	"os"
	"os/signal"
	"scimgate/conf"
	"scimgate/net"
	"syscall"
)

var log logger.Logger

func init() {
	log = logger.GetLogger("scimgate.main")
}

var confFile = flag.String("c", "", "Path of the server configuration file, built-in defaults are used when omitted")
var logLevel = flag.String("l", "info", "Log level, one of trace, debug, info, warning, error")

func main() {
	flag.Parse()

	logger.ConfigureLoggers("<root>=" + *logLevel)

	cf := conf.DefaultConfig()
	if *confFile != "" {
		var err error
		cf, err = conf.ParseConfig(*confFile)
		if err != nil {
			log.Criticalf("Failed to parse the configuration file %s [%s]", *confFile, err)
			os.Exit(1)
		}
	}

	sg, err := net.NewServer(cf)
	if err != nil {
		log.Criticalf("Failed to initialize the gateway [%s]", err)
		os.Exit(1)
	}

	go sg.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	log.Debugf("Waiting for signals...")
	<-sigs
	log.Infof("Shutting down...")
	sg.Stop()
}
