package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/pulsevote/api.pulsevote.dev/broker"
	"github.com/pulsevote/api.pulsevote.dev/configure"
	"github.com/pulsevote/api.pulsevote.dev/mongo"
	"github.com/pulsevote/api.pulsevote.dev/poll"
	"github.com/pulsevote/api.pulsevote.dev/redis"
	"github.com/pulsevote/api.pulsevote.dev/server"
)

func main() {
	log.Infoln("Application Starting...")

	configCode := configure.Config.GetInt("exit_code")
	if configCode > 125 || configCode < 0 {
		log.Warnf("Invalid exit code specified in config (%v), using 0 as new exit code.", configCode)
		configCode = 0
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()

	store, err := mongo.New(ctx, configure.Config.GetString("mongo_uri"), configure.Config.GetString("mongo_db"))
	if err != nil {
		log.Fatalf("mongo, err=%v", err)
	}

	var cache *redis.Cache
	if uri := configure.Config.GetString("redis_uri"); uri != "" {
		cache, err = redis.New(uri)
		if err != nil {
			log.Fatalf("redis, err=%v", err)
		}
	} else {
		log.Warnln("No redis_uri configured, running without cache.")
	}

	rooms := broker.New()

	var tallyCache poll.Cache
	if cache != nil {
		tallyCache = cache
	}
	ingestor := poll.NewIngestor(store, rooms, tallyCache)

	s := server.NewServer(server.Deps{
		Store:         store,
		Cache:         cache,
		Broker:        rooms,
		Ingestor:      ingestor,
		AdminPassword: configure.Config.GetString("admin_password"),
	})

	go func() {
		sig := <-c
		log.Infof("sig=%v, gracefully shutting down...", sig)
		start := time.Now().UnixNano()

		wg := sync.WaitGroup{}
		wg.Add(1)

		go func() {
			defer wg.Done()
			if err := s.Shutdown(); err != nil {
				log.Errorf("server, shutdown=%v", err)
			}
			if err := store.Disconnect(context.Background()); err != nil {
				log.Errorf("mongo, shutdown=%v", err)
			}
			if cache != nil {
				if err := cache.Close(); err != nil {
					log.Errorf("redis, shutdown=%v", err)
				}
			}
		}()

		wg.Wait()

		log.Infof("Shutdown took, %.2fms", float64(time.Now().UnixNano()-start)/10e5)
		os.Exit(configCode)
	}()

	log.Infoln("Application Started.")

	select {}
}
