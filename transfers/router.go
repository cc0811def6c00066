package transfers

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/envelope"
)

// forwardedActions are the terminal actions the router fans out to the
// notification topic.
var forwardedActions = map[string]bool{
	envelope.ActionPrepare:         true,
	envelope.ActionCommit:          true,
	envelope.ActionReject:          true,
	envelope.ActionAbort:           true,
	envelope.ActionTimeoutReserved: true,
}

// TransferEventRouter consumes the shared transfer topic and forwards
// successful action-status events to notification. It is stateless.
type TransferEventRouter struct {
	bus bus.Bus
}

// NewTransferEventRouter builds a TransferEventRouter.
func NewTransferEventRouter(b bus.Bus) *TransferEventRouter {
	return &TransferEventRouter{bus: b}
}

// Handle is the consumer callback of the transfer topic.
func (r *TransferEventRouter) Handle(ctx context.Context, busErr error, msgs []bus.Message) error {
	if busErr != nil {
		return fmt.Errorf("transfer dispatch: %w", busErr)
	}
	if len(msgs) == 0 {
		return nil
	}
	var msg = msgs[0]

	var consumer = r.bus.GetConsumer(bus.TopicTransfer)
	if consumer == nil {
		log.WithField("topic", bus.TopicTransfer).Warn("no consumer bound for transfer topic; ignoring message")
		return nil
	}

	var event = msg.Envelope.Metadata.Event
	var out outcome

	if event.State.Status == envelope.StatusSuccess && forwardedActions[event.Action] {
		// Forward verbatim; payload fields this core doesn't model are
		// preserved because the payload is carried as raw JSON.
		var fwd = *msg.Envelope
		out = okOutcome(&produceIntent{
			eventType: envelope.TypeNotification,
			action:    event.Action,
			env:       &fwd,
			state:     event.State,
		})
	} else {
		log.WithFields(log.Fields{
			"transferId": msg.Envelope.ID,
			"action":     event.Action,
			"status":     event.State.Status,
		}).Warn("unroutable transfer event; ignoring")
		out = noOpOutcome()
	}

	var err = dispatch(ctx, r.bus, consumer, msg, out)
	if err == nil && out.kind == outcomeOK {
		routedTotal.WithLabelValues(event.Action).Inc()
	}
	return err
}
