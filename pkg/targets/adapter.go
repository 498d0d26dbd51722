package targets

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Credentials is the opaque per-account credential set for one integration,
// decoded from the account_targets row.
type Credentials map[string]string

// Payload is the target-agnostic content handed to an adapter. The concrete
// wire format of any third-party API is the adapter's business.
type Payload struct {
	ItemType      string
	NotebookTitle string
	PageNumber    int
	Title         string
	Body          string
	Checked       *bool
}

// Outcome is returned by a successful Deliver call.
type Outcome struct {
	// ExternalID is the identifier the target assigned to the delivered
	// object. Passed back on later deliveries so the adapter updates in
	// place instead of duplicating.
	ExternalID string
}

// Adapter implements create/update semantics against one external
// integration. Implementations classify failures with the error types below
// so the dispatcher can pick the right retry behavior.
type Adapter interface {
	Name() string

	// SupportedItemTypes returns the content types this target accepts.
	SupportedItemTypes() []string

	// Deliver creates or updates the object for the payload. A non-nil
	// externalID asks for an in-place update of that object.
	Deliver(ctx context.Context, creds Credentials, externalID *string, payload Payload) (*Outcome, error)

	// ValidateCredentials reports whether the credentials work, independent
	// of any delivery.
	ValidateCredentials(ctx context.Context, creds Credentials) (bool, error)
}

// ErrObjectGone signals that the previously delivered external object no
// longer exists at the target (archived or deleted there). The dispatcher
// reacts by clearing the stored external id so the next attempt creates a
// fresh object instead of erroring forever against a dead reference.
var ErrObjectGone = errors.New("external object gone")

// RateLimitedError signals the target is throttling us. It retries like a
// transient error but with a longer backoff.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by target, retry after %s", e.RetryAfter)
	}
	return "rate limited by target"
}

// PermanentError signals a failure retrying will not fix, e.g. revoked
// credentials. The ticket still exhausts its bounded retries so the failure
// stays visible rather than being silently dropped.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return "permanent target error: " + e.Reason
}

// IsRateLimited reports whether err is a rate-limit signal.
func IsRateLimited(err error) bool {
	var rle *RateLimitedError
	return errors.As(err, &rle)
}

// IsPermanent reports whether err is a permanent target error.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
