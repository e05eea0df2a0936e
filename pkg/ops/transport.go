package ops

import "context"

// Transport sends a protocol message to the server owning a stripe unit
// (or the coordinator). pkg/server implements this over peer connections
// and pkg/wire framing; tests use an in-memory fake.
type Transport interface {
	SendReceived(ctx context.Context, toServer uint32, msg Received) error
	SendPrepare(ctx context.Context, toServer uint32, msg Prepare) error
	SendCanCommit(ctx context.Context, toServer uint32, msg CanCommit) error
	SendStripewriteCanCommit(ctx context.Context, toServer uint32, msg StripewriteCanCommit) error
	SendDoCommit(ctx context.Context, toServer uint32, msg DoCommit) error
	SendCommitted(ctx context.Context, toServer uint32, msg Committed) error
	SendResult(ctx context.Context, toServer uint32, msg Result) error
}
