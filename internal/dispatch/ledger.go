package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"fandomassenger/internal/render"
)

// Delivery is a ledger entry for a successful post.
type Delivery struct {
	Key       string
	RunID     string
	Wiki      string
	Target    TargetKind
	Recipient string
	Subject   string
	At        time.Time
}

// Ledger remembers successful deliveries across runs.
type Ledger interface {
	Delivered(ctx context.Context, key string) (bool, error)
	MarkDelivered(ctx context.Context, d Delivery) error
}

// DeliveryKey identifies one message to one recipient on one wiki surface.
func DeliveryKey(wiki string, kind TargetKind, name string, msg render.RenderedMessage) string {
	h := sha256.New()
	for _, part := range []string{wiki, string(kind), name, msg.Subject, msg.Body} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
