// Command switch-consumer runs the transfer-orchestration core: it binds the
// prepare, fulfil, and transfer-event handlers to their bus topics and
// processes messages until signalled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/broker/client"
	pb "go.gazette.dev/core/broker/protocol"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/store"
	"github.com/payrail/transfers/transfers"
)

type config struct {
	Broker struct {
		Address string `long:"address" env:"ADDRESS" default:"localhost:8080" description:"Broker service endpoint"`
	} `group:"Broker" namespace:"broker" env-namespace:"BROKER"`

	Store struct {
		Path string `long:"path" env:"PATH" default:"transfers.db" description:"Path of the transfer store database"`
	} `group:"Store" namespace:"store" env-namespace:"STORE"`

	Consumer struct {
		GroupID        string        `long:"group-id" env:"GROUP_ID" default:"transfer-core" description:"Consumer group id"`
		SessionTimeout time.Duration `long:"session-timeout" env:"SESSION_TIMEOUT" default:"30s" description:"Consumer session timeout"`
		AutoCommit     bool          `long:"auto-commit" env:"AUTO_COMMIT" description:"Commit offsets automatically instead of at terminal outcomes"`
		Participants   []string      `long:"participant" env:"PARTICIPANTS" env-delim:"," description:"Participants to bind prepare handlers for (default: all registered)"`
	} `group:"Consumer" namespace:"consumer" env-namespace:"CONSUMER"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var cfg config
	if _, err := flags.Parse(&cfg); err != nil {
		os.Exit(1)
	}
	initLogging(cfg)

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var st, err = store.OpenSQLite(cfg.Store.Path)
	if err != nil {
		log.WithField("err", err).Fatal("failed to open transfer store")
	}
	defer st.Close()

	conn, err := grpc.NewClient(cfg.Broker.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.WithField("err", err).Fatal("failed to dial broker")
	}
	defer conn.Close()

	var rjc = pb.NewRoutedJournalClient(pb.NewJournalClient(conn), client.NewRouteCache(256, time.Hour))
	var gazette = bus.NewGazetteBus(ctx, rjc, st)

	var registrar = transfers.NewRegistrar(gazette, st, func(action string) bus.ConsumerConfig {
		return bus.ConsumerConfig{
			GroupID:        cfg.Consumer.GroupID,
			SessionTimeout: cfg.Consumer.SessionTimeout,
			AutoCommit:     cfg.Consumer.AutoCommit,
		}
	})
	if err = registrar.RegisterAllHandlers(ctx, cfg.Consumer.Participants); err != nil {
		log.WithField("err", err).Fatal("handler registration failed")
	}

	log.WithFields(log.Fields{
		"broker": cfg.Broker.Address,
		"store":  cfg.Store.Path,
	}).Info("transfer core started")

	<-ctx.Done()
	log.Info("signalled; shutting down")
}

func initLogging(cfg config) {
	if cfg.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}
}
