// Package transfers drives the transfer lifecycle: duplicate resolution,
// the prepare and fulfil pipelines, the transfer-event router, and the
// registrar which binds them to bus topics.
package transfers

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/payrail/transfers/bus"
	"github.com/payrail/transfers/envelope"
)

// SwitchName identifies the switch as message originator in notifications.
const SwitchName = "switch"

type outcomeKind int

const (
	// outcomeOK: the pipeline succeeded; commit, then produce downstream.
	outcomeOK outcomeKind = iota
	// outcomeNoOp: commit only; nothing is produced (eg in-flight replay).
	outcomeNoOp
	// outcomeProtocolFailure: the message violates protocol; commit, then
	// notify the originator with a stable error code.
	outcomeProtocolFailure
	// outcomeInternal: a store or internal failure; commit, then notify
	// with code 2001. Retry is operator-driven replay, not the bus layer.
	outcomeInternal
	// outcomeFatal: the pipeline could not reach a terminal decision; do
	// not commit, propagate so the message redelivers.
	outcomeFatal
)

// produceIntent describes the downstream event of a successful pipeline.
type produceIntent struct {
	participant string // Empty routes through ProduceGeneral.
	eventType   string
	action      string
	env         *envelope.Envelope
	state       envelope.State
}

// outcome is the terminal decision of a pipeline run. Every pipeline returns
// exactly one; dispatch is the single place deciding commit and produce.
type outcome struct {
	kind outcomeKind
	// Protocol/internal failure details.
	code   int
	detail string
	// Failure notification routing.
	notifyAction string
	notifyTo     string
	transferID   string
	extensions   []envelope.Extension
	// Success produce.
	intent *produceIntent
	// Fatal error.
	err error
}

func okOutcome(intent *produceIntent) outcome {
	return outcome{kind: outcomeOK, intent: intent}
}

func noOpOutcome() outcome { return outcome{kind: outcomeNoOp} }

func fatalOutcome(err error) outcome { return outcome{kind: outcomeFatal, err: err} }

// dispatch applies an outcome: commit the offset (manual-commit mode, all
// terminal kinds), then produce the downstream or notification event.
// Offsets commit before produce: a duplicate downstream event is preferred
// over double processing, and the duplicate resolver makes redelivery safe.
func dispatch(ctx context.Context, b bus.Bus, consumer bus.Consumer, msg bus.Message, out outcome) error {
	if out.kind == outcomeFatal {
		return out.err
	}

	if !consumer.AutoCommit() {
		if err := consumer.CommitSync(ctx, msg); err != nil {
			// Without a durable commit the outcome isn't terminal.
			return fmt.Errorf("committing offset of %s: %w", msg.Topic, err)
		}
	}

	switch out.kind {
	case outcomeNoOp:
		return nil

	case outcomeOK:
		var intent = out.intent
		if intent.participant != "" {
			if err := b.ProduceParticipant(ctx, intent.participant, intent.eventType, intent.action, intent.env, intent.state); err != nil {
				return err
			}
		} else {
			if err := b.ProduceGeneral(ctx, intent.eventType, intent.action, intent.env, intent.state); err != nil {
				return err
			}
		}
		return nil

	case outcomeProtocolFailure, outcomeInternal:
		var errInfo = envelope.NewErrorInformation(out.code, out.detail, out.extensions)
		var env, err = envelope.New(out.transferID, SwitchName, out.notifyTo, envelope.ErrorPayload{ErrorInformation: errInfo})
		if err != nil {
			return fmt.Errorf("building error notification: %w", err)
		}
		var state = envelope.FailureState(errInfo.ErrorCode, errInfo.ErrorDescription)
		if err = b.ProduceGeneral(ctx, envelope.TypeNotification, out.notifyAction, env, state); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"transferId": out.transferID,
			"errorCode":  out.code,
			"action":     out.notifyAction,
		}).Warn("notified failure")
		return nil

	default:
		return fmt.Errorf("unknown outcome kind %d", out.kind)
	}
}
