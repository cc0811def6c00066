package validate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/payrail/transfers/envelope"
	"github.com/payrail/transfers/store"
)

// Result is the outcome of by-name validation. Failures are reported, not
// raised; they drive the error notification pipeline.
type Result struct {
	ValidationPassed bool
	Reasons          []string
}

// Reason renders the reasons as a single human-readable string.
func (r Result) Reason() string {
	var out string
	for i, reason := range r.Reasons {
		if i != 0 {
			out += "; "
		}
		out += reason
	}
	return out
}

// ParticipantReader is the slice of the store the validator needs.
type ParticipantReader interface {
	GetParticipant(ctx context.Context, name string) (*store.Participant, error)
}

const participantCacheSize = 1024
const participantCacheTTL = 30 * time.Second

type cachedParticipant struct {
	participant *store.Participant
	fetchedAt   time.Time
}

// ByName performs schema and business-rule validation of prepare payloads.
// Participants change rarely but are consulted per message, so lookups are
// served through a small expiring LRU.
type ByName struct {
	participants ParticipantReader
	cache        *lru.Cache[string, cachedParticipant]
	now          func() time.Time
}

// NewByName builds a ByName validator over the participant registry.
func NewByName(participants ParticipantReader) (*ByName, error) {
	var cache, err = lru.New[string, cachedParticipant](participantCacheSize)
	if err != nil {
		return nil, fmt.Errorf("building participant cache: %w", err)
	}
	return &ByName{
		participants: participants,
		cache:        cache,
		now:          time.Now,
	}, nil
}

// Validate checks the payload. A store failure while resolving participants
// is returned as an error (it is not a validation verdict).
func (v *ByName) Validate(ctx context.Context, p *envelope.TransferPrepare) (Result, error) {
	var reasons []string

	payer, err := v.lookup(ctx, p.PayerFsp)
	if err != nil {
		return Result{}, err
	}
	payee, err := v.lookup(ctx, p.PayeeFsp)
	if err != nil {
		return Result{}, err
	}

	switch {
	case payer == nil:
		reasons = append(reasons, fmt.Sprintf("payer FSP %s does not exist", p.PayerFsp))
	case !payer.IsActive:
		reasons = append(reasons, fmt.Sprintf("payer FSP %s is not active", p.PayerFsp))
	}
	switch {
	case payee == nil:
		reasons = append(reasons, fmt.Sprintf("payee FSP %s does not exist", p.PayeeFsp))
	case !payee.IsActive:
		reasons = append(reasons, fmt.Sprintf("payee FSP %s is not active", p.PayeeFsp))
	}

	if !currencyPattern.MatchString(p.Amount.Currency) {
		reasons = append(reasons, fmt.Sprintf("currency %q is not a valid currency code", p.Amount.Currency))
	} else {
		if payer != nil && !supportsCurrency(payer, p.Amount.Currency) {
			reasons = append(reasons, fmt.Sprintf("payer FSP %s does not support currency %s", p.PayerFsp, p.Amount.Currency))
		}
		if payee != nil && !supportsCurrency(payee, p.Amount.Currency) {
			reasons = append(reasons, fmt.Sprintf("payee FSP %s does not support currency %s", p.PayeeFsp, p.Amount.Currency))
		}
	}

	if !amountPattern.MatchString(p.Amount.Amount) || strings.Trim(p.Amount.Amount, "0.") == "" {
		reasons = append(reasons, fmt.Sprintf("amount %q is not a well-formed positive decimal", p.Amount.Amount))
	}
	if !p.ExpirationDate.After(v.now()) {
		reasons = append(reasons, fmt.Sprintf("expiration date %s is not in the future", p.ExpirationDate.UTC().Format(time.RFC3339)))
	}
	if _, err := decodeBase64URL(p.ILPPacket); err != nil || p.ILPPacket == "" {
		reasons = append(reasons, "ilpPacket does not parse")
	}
	if cond, err := decodeBase64URL(p.Condition); err != nil || len(cond) != sha256.Size {
		reasons = append(reasons, "condition is not a 32-byte base64url value")
	}

	return Result{ValidationPassed: len(reasons) == 0, Reasons: reasons}, nil
}

func (v *ByName) lookup(ctx context.Context, name string) (*store.Participant, error) {
	if cached, ok := v.cache.Get(name); ok &&
		v.now().Sub(cached.fetchedAt) < participantCacheTTL {
		return cached.participant, nil
	}
	var p, err = v.participants.GetParticipant(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolving participant %s: %w", name, err)
	}
	v.cache.Add(name, cachedParticipant{participant: p, fetchedAt: v.now()})
	return p, nil
}

func supportsCurrency(p *store.Participant, currency string) bool {
	if len(p.Currencies) == 0 {
		return true // No restriction configured.
	}
	for _, c := range p.Currencies {
		if c == currency {
			return true
		}
	}
	return false
}
