package transfers

import (
	"context"
	"fmt"

	"github.com/payrail/transfers/envelope"
	"github.com/payrail/transfers/store"
	"github.com/payrail/transfers/validate"
)

// Classification of an incoming prepare payload against the store. The
// resolver is the single authority on what a replay means; pipelines act on
// the classification and never re-inspect the underlying booleans.
type Classification int

const (
	// ClassificationNew: first sighting; proceed to validation.
	ClassificationNew Classification = iota
	// ClassificationInFlight: matching replay of a transfer still in
	// RECEIVED or RESERVED; silently a no-op.
	ClassificationInFlight
	// ClassificationFinalizedReplay: matching replay of a finalized
	// transfer; answer with the current transfer snapshot.
	ClassificationFinalizedReplay
	// ClassificationModified: same transferId, different fingerprint; a
	// protocol violation.
	ClassificationModified
	// ClassificationAnomaly: a matching hash with no recorded state.
	ClassificationAnomaly
)

func (c Classification) String() string {
	switch c {
	case ClassificationNew:
		return "new"
	case ClassificationInFlight:
		return "in-flight"
	case ClassificationFinalizedReplay:
		return "finalized-replay"
	case ClassificationModified:
		return "modified"
	case ClassificationAnomaly:
		return "anomaly"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Resolution is the resolver verdict. Transfer is the stored snapshot,
// populated only for ClassificationFinalizedReplay.
type Resolution struct {
	Classification Classification
	Transfer       *store.Transfer
}

// ResolveDuplicate fingerprints the payload, records it via the store's
// atomic insert-if-absent, and classifies the result.
func ResolveDuplicate(ctx context.Context, s store.Store, p *envelope.TransferPrepare) (Resolution, error) {
	var hash = validate.Fingerprint(p)

	var check, err = s.ValidateDuplicateHash(ctx, p.TransferID, hash[:])
	if err != nil {
		return Resolution{}, fmt.Errorf("checking duplicate hash: %w", err)
	}

	switch {
	case check.ExistsNotMatching:
		return Resolution{Classification: ClassificationModified}, nil
	case !check.ExistsMatching:
		return Resolution{Classification: ClassificationNew}, nil
	}

	state, err := s.GetTransferStateChange(ctx, p.TransferID)
	if err != nil {
		return Resolution{}, fmt.Errorf("reading state of duplicate %s: %w", p.TransferID, err)
	}

	switch {
	case state == "":
		return Resolution{Classification: ClassificationAnomaly}, nil
	case state.Terminal():
		transfer, err := s.GetByID(ctx, p.TransferID)
		if err != nil {
			return Resolution{}, fmt.Errorf("reading duplicate %s: %w", p.TransferID, err)
		} else if transfer == nil {
			return Resolution{Classification: ClassificationAnomaly}, nil
		}
		return Resolution{Classification: ClassificationFinalizedReplay, Transfer: transfer}, nil
	default:
		// RECEIVED and RESERVED are equivalently in-flight here.
		return Resolution{Classification: ClassificationInFlight}, nil
	}
}
