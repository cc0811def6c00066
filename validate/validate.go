// Package validate holds the pure checks of the transfer core: the payload
// fingerprint used for duplicate detection, the cryptographic fulfilment
// check, and the by-name schema/business validation of prepare payloads.
package validate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"regexp"
	"strings"
	"time"

	"github.com/payrail/transfers/envelope"
)

// fingerprintDelimiter separates canonicalized fields. A field value cannot
// shift across a field boundary without changing the digest.
const fingerprintDelimiter = 0x00

// Fingerprint computes the stable SHA-256 digest of the canonicalized prepare
// payload. Field order is fixed and part of the cross-process contract:
// transferId, payerFsp, payeeFsp, currency, amount, ilpPacket, condition,
// expirationDate.
func Fingerprint(p *envelope.TransferPrepare) [sha256.Size]byte {
	var h = sha256.New()
	for i, field := range []string{
		p.TransferID,
		p.PayerFsp,
		p.PayeeFsp,
		p.Amount.Currency,
		p.Amount.Amount,
		p.ILPPacket,
		p.Condition,
		p.ExpirationDate.UTC().Format(time.RFC3339Nano),
	} {
		if i != 0 {
			h.Write([]byte{fingerprintDelimiter})
		}
		h.Write([]byte(field))
	}
	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}

// VerifyFulfilment returns true iff SHA-256 of the decoded fulfilment equals
// the decoded condition, compared in constant time. Any decode error, or a
// condition of the wrong width, yields false; it never errors.
func VerifyFulfilment(fulfilment, condition string) bool {
	var preimage, err = decodeBase64URL(fulfilment)
	if err != nil {
		return false
	}
	cond, err := decodeBase64URL(condition)
	if err != nil || len(cond) != sha256.Size {
		return false
	}
	var digest = sha256.Sum256(preimage)
	return subtle.ConstantTimeCompare(digest[:], cond) == 1
}

// decodeBase64URL decodes base64url input with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.URLEncoding.WithPadding(base64.NoPadding).
		DecodeString(strings.TrimRight(s, "="))
}

var amountPattern = regexp.MustCompile(`^(0|[1-9]\d*)(\.\d{1,4})?$`)
var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
