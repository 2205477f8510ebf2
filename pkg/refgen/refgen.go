package refgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/veloracommerce/paycore/pkg/errors"
)

// Kind selects the prefix of a generated reference.
type Kind string

const (
	KindOrder        Kind = "order"
	KindPayment      Kind = "payment"
	KindTransaction  Kind = "transaction"
	KindNotification Kind = "notification"
)

var kindPrefixes = map[Kind]string{
	KindOrder:        "ord",
	KindPayment:      "pay",
	KindTransaction:  "txn",
	KindNotification: "ntf",
}

const (
	sequenceWidth = 6
	entropyBytes  = 4
)

// Generator produces collision-resistant external reference strings:
// <prefix>_<unix millis><6 base-36 sequence digits><8 hex entropy chars>.
// The sequence is per-process monotonic; entropy covers multi-process races.
type Generator struct {
	mu  sync.Mutex
	seq uint64
	now func() time.Time
}

// New builds a Generator using the wall clock.
func New() *Generator {
	return &Generator{now: time.Now}
}

// Generate returns a fresh reference for the given kind. Unknown kinds fail
// with a validation error; the sequence increment is the only side effect.
func (g *Generator) Generate(kind Kind) (string, error) {
	prefix, ok := kindPrefixes[kind]
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown reference kind %q", kind))
	}

	g.mu.Lock()
	g.seq++
	seq := g.seq
	g.mu.Unlock()

	entropy := make([]byte, entropyBytes)
	if _, err := rand.Read(entropy); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read entropy")
	}

	millis := g.now().UnixMilli()
	seqPart := strconv.FormatUint(seq%pow36(sequenceWidth), 36)
	seqPart = strings.Repeat("0", sequenceWidth-len(seqPart)) + seqPart

	return fmt.Sprintf("%s_%d%s%s", prefix, millis, seqPart, hex.EncodeToString(entropy)), nil
}

func pow36(width int) uint64 {
	result := uint64(1)
	for i := 0; i < width; i++ {
		result *= 36
	}
	return result
}

const canonicalPrefix = "txn_"

// Canonicalize maps legacy payment reference formats onto the canonical
// txn_ form so old and new formats resolve to the same ledger rows.
// Recognized legacy shapes: pay_<id>, PAY-<id>, and bare digits. Anything
// else (including already-canonical references) passes through unchanged.
func Canonicalize(reference string) string {
	ref := strings.TrimSpace(reference)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, canonicalPrefix):
		return ref
	case strings.HasPrefix(ref, "pay_"):
		return canonicalPrefix + strings.TrimPrefix(ref, "pay_")
	case strings.HasPrefix(ref, "PAY-"):
		return canonicalPrefix + strings.TrimPrefix(ref, "PAY-")
	case isDigits(ref):
		return canonicalPrefix + ref
	default:
		return ref
	}
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
