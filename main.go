package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/metrics"
	"github.com/deemkeen/mammut/util"
	"github.com/deemkeen/mammut/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database := db.GetDB()

	fed := activitypub.NewFederation(conf,
		database, // accounts
		database, // followers
		database, // peers
		database, // relays
		database, // local objects
		database, // delivery queue
		metrics.Sink{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the delivery workers if federation is enabled
	if conf.Conf.WithAp {
		activitypub.StartDeliveryWorkers(ctx, fed)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, fed); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
	cancel()
}
