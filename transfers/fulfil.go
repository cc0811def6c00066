package transfers

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/envelope"
	"github.com/payrail/transfers/store"
	"github.com/payrail/transfers/validate"
)

// FulfilHandler consumes the shared fulfil topic and drives commits and
// rejects of reserved transfers.
//
// Checks run in a strict order: fulfilment cryptography before state, state
// before expiry. A forged fulfilment of an expired transfer must still
// report a modified request, not expiry, to avoid leaking transfer state.
type FulfilHandler struct {
	bus   bus.Bus
	store store.Store
	now   func() time.Time
}

// NewFulfilHandler builds a FulfilHandler.
func NewFulfilHandler(b bus.Bus, s store.Store) *FulfilHandler {
	return &FulfilHandler{bus: b, store: s, now: time.Now}
}

// Handle is the consumer callback of the fulfil topic.
func (h *FulfilHandler) Handle(ctx context.Context, busErr error, msgs []bus.Message) error {
	if busErr != nil {
		return fmt.Errorf("fulfil dispatch: %w", busErr)
	}
	if len(msgs) == 0 {
		return nil
	}
	var msg = msgs[0]

	var consumer = h.bus.GetConsumer(bus.TopicFulfil)
	if consumer == nil {
		log.WithField("topic", bus.TopicFulfil).Warn("no consumer bound for fulfil topic; ignoring message")
		return nil
	}

	var out = h.pipeline(ctx, msg)
	var err = dispatch(ctx, h.bus, consumer, msg, out)
	if err == nil {
		fulfilsTotal.WithLabelValues(msg.Envelope.Metadata.Event.Action, resultLabel(out)).Inc()
	}
	return err
}

func (h *FulfilHandler) pipeline(ctx context.Context, msg bus.Message) outcome {
	var env = msg.Envelope
	var event = env.Metadata.Event
	var transferID = env.ID

	if event.Type != envelope.TypeFulfil ||
		(event.Action != envelope.ActionCommit && event.Action != envelope.ActionReject) {
		return h.failure(env, outcomeProtocolFailure, envelope.CodeInternal,
			fmt.Sprintf("unsupported event type %q action %q", event.Type, event.Action))
	}

	var payload envelope.TransferFulfil
	if err := env.DecodePayload(&payload); err != nil {
		return h.failure(env, outcomeProtocolFailure, envelope.CodeInternal, "fulfil payload does not parse")
	}

	var existing, err = h.store.GetByID(ctx, transferID)
	if err != nil {
		storeFailuresTotal.Inc()
		return h.internal(env, err)
	}
	if existing == nil {
		return h.failure(env, outcomeProtocolFailure, envelope.CodeInternal,
			fmt.Sprintf("transfer %s does not exist", transferID))
	}
	if !validate.VerifyFulfilment(payload.Fulfilment, existing.Condition) {
		return h.failure(env, outcomeProtocolFailure, envelope.CodeModifiedRequest, "")
	}
	if existing.State != store.TransferStateReserved {
		return h.failure(env, outcomeProtocolFailure, envelope.CodeInternal,
			fmt.Sprintf("transfer %s is %s, not RESERVED", transferID, existing.State))
	}
	if !existing.ExpirationDate.After(h.now()) {
		return h.failure(env, outcomeProtocolFailure, envelope.CodeTransferExpired, "")
	}

	switch event.Action {
	case envelope.ActionCommit:
		err = h.store.Fulfil(ctx, transferID, store.Fulfilment{
			Fulfilment:         payload.Fulfilment,
			CompletedTimestamp: payload.CompletedTimestamp,
		})
		if err != nil {
			return h.storeFailure(env, err)
		}
		// The payee's position applies the commit next.
		var fwd = *env
		return okOutcome(&produceIntent{
			participant: existing.PayeeFsp,
			eventType:   envelope.TypePosition,
			action:      envelope.ActionCommit,
			env:         &fwd,
			state:       envelope.SuccessState,
		})

	default: // envelope.ActionReject
		err = h.store.Reject(ctx, transferID,
			envelope.NewErrorInformation(envelope.CodeValidation, "transfer rejected by payee", payload.ExtensionList))
		if err != nil {
			return h.storeFailure(env, err)
		}
		// The payer's position releases the reservation next.
		var fwd = *env
		return okOutcome(&produceIntent{
			participant: existing.PayerFsp,
			eventType:   envelope.TypePosition,
			action:      envelope.ActionReject,
			env:         &fwd,
			state:       envelope.SuccessState,
		})
	}
}

func (h *FulfilHandler) storeFailure(env *envelope.Envelope, err error) outcome {
	if errors.Is(err, store.ErrNotReserved) {
		// Lost the race with a concurrent transition; a state rule, not an
		// infrastructure fault.
		return h.failure(env, outcomeProtocolFailure, envelope.CodeInternal,
			fmt.Sprintf("transfer %s is not RESERVED", env.ID))
	}
	storeFailuresTotal.Inc()
	return h.internal(env, err)
}

func (h *FulfilHandler) failure(env *envelope.Envelope, kind outcomeKind, code int, detail string) outcome {
	return outcome{
		kind:         kind,
		code:         code,
		detail:       detail,
		notifyAction: envelope.ActionCommit,
		notifyTo:     env.From,
		transferID:   env.ID,
	}
}

func (h *FulfilHandler) internal(env *envelope.Envelope, err error) outcome {
	log.WithFields(log.Fields{
		"transferId": env.ID,
		"err":        err,
	}).Error("fulfil pipeline internal failure")
	return h.failure(env, outcomeInternal, envelope.CodeInternal, "")
}
