package transfers

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/store"
	"github.com/payrail/transfers/validate"
)

// ConfigSource resolves the externally-sourced consumer configuration of a
// transfer action (broker group, session timeout, auto-commit flag).
type ConfigSource func(action string) bus.ConsumerConfig

// Registrar binds the coordinators to their topics: one consumer per
// participant prepare topic, one on the shared fulfil topic, one on the
// shared transfer topic.
type Registrar struct {
	bus    bus.Bus
	store  store.Store
	config ConfigSource
}

// NewRegistrar builds a Registrar. config may be nil, in which case
// zero-valued consumer configurations (manual commit) are used.
func NewRegistrar(b bus.Bus, s store.Store, config ConfigSource) *Registrar {
	if config == nil {
		config = func(string) bus.ConsumerConfig { return bus.ConsumerConfig{} }
	}
	return &Registrar{bus: b, store: s, config: config}
}

// RegisterAllHandlers registers prepare, fulfil, and transfer handlers, in
// that order. Registration failures propagate; partial registration is left
// to the operator to recover.
func (r *Registrar) RegisterAllHandlers(ctx context.Context, participants []string) error {
	if _, err := r.RegisterPrepareHandlers(ctx, participants); err != nil {
		return err
	}
	if err := r.RegisterFulfilHandler(ctx); err != nil {
		return err
	}
	return r.RegisterTransferHandler(ctx)
}

// RegisterPrepareHandlers creates one consumer per participant prepare
// topic, bound to the prepare coordinator. When participants is empty, all
// participants are fetched from the store. Returns false when there are no
// participants to register — reported, not an error.
func (r *Registrar) RegisterPrepareHandlers(ctx context.Context, participants []string) (bool, error) {
	var err error
	if len(participants) == 0 {
		if participants, err = r.store.ParticipantNames(ctx); err != nil {
			return false, fmt.Errorf("fetching participants: %w", err)
		}
	}
	if len(participants) == 0 {
		log.Warn("no participants registered; prepare handlers not created")
		return false, nil
	}

	var validator *validate.ByName
	if validator, err = validate.NewByName(r.store); err != nil {
		return false, err
	}
	var handler = NewPrepareHandler(r.bus, r.store, validator)

	for _, participant := range participants {
		var topic = bus.PrepareTopic(participant)
		var cfg = r.config("prepare")
		cfg.ClientID = topic

		if err = r.bus.CreateHandler(ctx, topic, cfg, handler.Handle); err != nil {
			return false, fmt.Errorf("registering prepare handler of %s: %w", participant, err)
		}
	}
	return true, nil
}

// RegisterFulfilHandler creates the single consumer of the shared fulfil
// topic, bound to the fulfil coordinator.
func (r *Registrar) RegisterFulfilHandler(ctx context.Context) error {
	var cfg = r.config("fulfil")
	cfg.ClientID = bus.TopicFulfil

	var handler = NewFulfilHandler(r.bus, r.store)
	if err := r.bus.CreateHandler(ctx, bus.TopicFulfil, cfg, handler.Handle); err != nil {
		return fmt.Errorf("registering fulfil handler: %w", err)
	}
	return nil
}

// RegisterTransferHandler creates the single consumer of the shared transfer
// topic, bound to the transfer-event router.
func (r *Registrar) RegisterTransferHandler(ctx context.Context) error {
	var cfg = r.config("transfer")
	cfg.ClientID = bus.TopicTransfer

	var router = NewTransferEventRouter(r.bus)
	if err := r.bus.CreateHandler(ctx, bus.TopicTransfer, cfg, router.Handle); err != nil {
		return fmt.Errorf("registering transfer handler: %w", err)
	}
	return nil
}
