package transfers

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/envelope"
	"github.com/payrail/transfers/store"
	"github.com/payrail/transfers/validate"
)

// PrepareHandler consumes per-participant prepare topics: it resolves
// duplicates, validates the payload, persists the transfer, and emits to the
// payer's position topic on success or to notification on failure.
type PrepareHandler struct {
	bus       bus.Bus
	store     store.Store
	validator *validate.ByName
}

// NewPrepareHandler builds a PrepareHandler.
func NewPrepareHandler(b bus.Bus, s store.Store, v *validate.ByName) *PrepareHandler {
	return &PrepareHandler{bus: b, store: s, validator: v}
}

// Handle is the consumer callback of prepare topics.
func (h *PrepareHandler) Handle(ctx context.Context, busErr error, msgs []bus.Message) error {
	if busErr != nil {
		return fmt.Errorf("prepare dispatch: %w", busErr)
	}
	if len(msgs) == 0 {
		return nil
	}
	var msg = msgs[0] // Non-batch mode.

	var topic = bus.PrepareTopic(msg.Envelope.From)
	var consumer = h.bus.GetConsumer(topic)
	if consumer == nil {
		log.WithField("topic", topic).Warn("no consumer bound for prepare topic; ignoring message")
		return nil
	}

	var out = h.pipeline(ctx, msg)
	var err = dispatch(ctx, h.bus, consumer, msg, out)
	if err == nil {
		preparesTotal.WithLabelValues(resultLabel(out)).Inc()
	}
	return err
}

func (h *PrepareHandler) pipeline(ctx context.Context, msg bus.Message) outcome {
	var env = msg.Envelope

	var payload envelope.TransferPrepare
	if err := env.DecodePayload(&payload); err != nil {
		return outcome{
			kind:         outcomeProtocolFailure,
			code:         envelope.CodeValidation,
			detail:       "prepare payload does not parse",
			notifyAction: envelope.ActionPrepare,
			notifyTo:     env.From,
			transferID:   env.ID,
		}
	}

	var resolution, err = ResolveDuplicate(ctx, h.store, &payload)
	if err != nil {
		storeFailuresTotal.Inc()
		return h.internal(&payload, err)
	}
	if resolution.Classification != ClassificationNew {
		duplicatesTotal.WithLabelValues(resolution.Classification.String()).Inc()
	}

	switch resolution.Classification {
	case ClassificationNew:
		// Proceed to validation below.

	case ClassificationInFlight:
		return noOpOutcome()

	case ClassificationFinalizedReplay:
		var dup, err = envelope.New(payload.TransferID, SwitchName, payload.PayerFsp, resolution.Transfer.Snapshot())
		if err != nil {
			return fatalOutcome(fmt.Errorf("building duplicate snapshot: %w", err))
		}
		return okOutcome(&produceIntent{
			eventType: envelope.TypeNotification,
			action:    envelope.ActionPrepareDuplicate,
			env:       dup,
			state:     envelope.SuccessState,
		})

	case ClassificationModified:
		return h.protocolFailure(&payload, envelope.CodeModifiedRequest, "")

	default: // ClassificationAnomaly
		return h.protocolFailure(&payload, envelope.CodeValidation,
			"duplicate hash exists with no recorded transfer state")
	}

	result, err := h.validator.Validate(ctx, &payload)
	if err != nil {
		storeFailuresTotal.Inc()
		return h.internal(&payload, err)
	}

	if err = h.store.Prepare(ctx, &payload, result.Reason(), result.ValidationPassed); err != nil {
		storeFailuresTotal.Inc()
		return h.internal(&payload, err)
	}

	if !result.ValidationPassed {
		// The invalid prepare is persisted (audit), logged, and notified.
		if err = h.store.LogTransferError(ctx, payload.TransferID, envelope.CodeValidation, result.Reason()); err != nil {
			storeFailuresTotal.Inc()
		}
		return h.protocolFailure(&payload, envelope.CodeValidation, result.Reason())
	}

	// Success: the payer's position reserves the transfer next.
	var fwd = *env
	return okOutcome(&produceIntent{
		participant: payload.PayerFsp,
		eventType:   envelope.TypePosition,
		action:      envelope.ActionPrepare,
		env:         &fwd,
		state:       envelope.SuccessState,
	})
}

func (h *PrepareHandler) protocolFailure(p *envelope.TransferPrepare, code int, detail string) outcome {
	return outcome{
		kind:         outcomeProtocolFailure,
		code:         code,
		detail:       detail,
		notifyAction: envelope.ActionPrepare,
		notifyTo:     p.PayerFsp,
		transferID:   p.TransferID,
		extensions:   p.ExtensionList,
	}
}

func (h *PrepareHandler) internal(p *envelope.TransferPrepare, err error) outcome {
	log.WithFields(log.Fields{
		"transferId": p.TransferID,
		"err":        err,
	}).Error("prepare pipeline internal failure")
	return outcome{
		kind:         outcomeInternal,
		code:         envelope.CodeInternal,
		notifyAction: envelope.ActionPrepare,
		notifyTo:     p.PayerFsp,
		transferID:   p.TransferID,
		extensions:   p.ExtensionList,
	}
}

func resultLabel(out outcome) string {
	switch out.kind {
	case outcomeOK:
		return "ok"
	case outcomeNoOp:
		return "no-op"
	case outcomeProtocolFailure:
		return "protocol-failure"
	case outcomeInternal:
		return "internal"
	default:
		return "fatal"
	}
}
