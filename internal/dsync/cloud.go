package dsync

import (
	"context"

	"dsync-go/internal/model"
)

// PushHandler receives a remote-originated document change.
type PushHandler func(doc *model.Document)

// PayloadCipher transforms payload bytes before they leave the device and
// after they come back. Implementations must be deterministic inverses:
// Decrypt(Encrypt(p)) == p. Content hashes are always computed over the
// plaintext, so the cipher is invisible to conflict detection.
type PayloadCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// CloudStore is the boundary to remote persistence, polymorphic over
// provider. Conflict avoidance is the engine's job, not this layer's:
// Upload is last-writer-wins at the transport level. All operations may
// fail with a *RemoteError; timeout policy is the implementation's and a
// timeout surfaces as a transient RemoteError.
type CloudStore interface {
	// Authenticate establishes or validates a session. Invalid credentials
	// are a permanent RemoteError; network failures are transient.
	Authenticate(ctx context.Context) error

	// IsAuthenticated is a non-failing session status check.
	IsAuthenticated() bool

	// Upload upserts the document remotely, keyed by doc.ID. It overwrites
	// remote content and timestamp unconditionally and is idempotent.
	Upload(ctx context.Context, doc *model.Document) error

	// Download returns the remote document, or (nil, nil) when absent.
	Download(ctx context.Context, id string) (*model.Document, error)

	// List returns remote document metadata ordered by remote-modified
	// time descending.
	List(ctx context.Context) ([]*model.DocumentMeta, error)

	// Delete removes the remote document. Deleting an absent ID is a no-op.
	Delete(ctx context.Context, id string) error

	// SubscribeToChanges registers a push handler invoked for every remote
	// mutation that did not originate from this device (self-originated
	// echoes are filtered by OriginDeviceID). Delivery ordering across
	// documents is unspecified; per-document delivery is FIFO. The returned
	// func cancels the subscription.
	SubscribeToChanges(handler PushHandler) (unsubscribe func(), err error)
}
