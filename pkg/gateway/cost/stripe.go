package cost

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/billing/meterevent"
)

// StripeReporter forwards finalized session usage to a Stripe billing
// meter. Reporting is best-effort: a failure is logged, never surfaced to
// the session-end path.
type StripeReporter struct {
	meterName string
	logger    *slog.Logger
}

// NewStripeReporter configures the global Stripe client with the given key.
// Returns nil when the key is empty, which callers treat as "reporting
// disabled".
func NewStripeReporter(apiKey, meterName string, logger *slog.Logger) *StripeReporter {
	if apiKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if meterName == "" {
		meterName = "voice_session_seconds"
	}
	stripe.Key = apiKey
	return &StripeReporter{meterName: meterName, logger: logger}
}

// Report emits one meter event for a completed session. The session ID is
// used as the idempotency identifier so a repeated end-of-session report
// does not double-bill.
func (r *StripeReporter) Report(ctx context.Context, rec Record) {
	if r == nil {
		return
	}

	params := &stripe.BillingMeterEventParams{
		EventName:  stripe.String(r.meterName),
		Identifier: stripe.String(rec.SessionID),
		Payload: map[string]string{
			"value":      strconv.Itoa(rec.DurationSeconds),
			"session_id": rec.SessionID,
			"cost_usd":   fmt.Sprintf("%.6f", rec.TotalCost),
		},
	}
	params.Context = ctx

	if _, err := meterevent.New(params); err != nil {
		r.logger.Error("stripe meter event failed",
			"session_id", rec.SessionID, "err", err)
	}
}
