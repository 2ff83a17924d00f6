package cloud

import (
	"context"
	"sort"
	"sync"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
)

// MemoryCloud is an in-memory implementation of the CloudStore interface.
// It keeps all documents in memory and delivers pushes synchronously, making
// it useful for testing and for single-device setups with no remote at all.
// This implementation is safe for concurrent use.
type MemoryCloud struct {
	name     string
	deviceID string
	codec    *Codec

	mu          sync.RWMutex
	docs        map[string]*WireDocument
	handlers    map[int]dsync.PushHandler
	nextHandler int
	authed      bool

	// Injectable failures for exercising retry paths.
	authErr     error
	uploadErr   error
	downloadErr error
}

// NewMemoryCloud creates a new in-memory cloud store. deviceID identifies the
// local device so its own changes are not echoed back to subscribers.
func NewMemoryCloud(name, deviceID string, cipher dsync.PayloadCipher) *MemoryCloud {
	return &MemoryCloud{
		name:     name,
		deviceID: deviceID,
		codec:    NewCodec(cipher),
		docs:     make(map[string]*WireDocument),
		handlers: make(map[int]dsync.PushHandler),
	}
}

// Authenticate establishes the session. Always succeeds unless a failure has
// been injected.
func (m *MemoryCloud) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authErr != nil {
		return m.authErr
	}
	m.authed = true
	return nil
}

func (m *MemoryCloud) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authed
}

// Upload upserts the document. Subscribers on other devices are notified
// synchronously before Upload returns.
func (m *MemoryCloud) Upload(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	if m.uploadErr != nil {
		err := m.uploadErr
		m.mu.Unlock()
		return err
	}
	wire, err := m.codec.Encode(doc)
	if err != nil {
		m.mu.Unlock()
		return dsync.PermanentRemote("upload", err)
	}
	m.docs[wire.ID] = wire
	m.mu.Unlock()

	m.notify(wire)
	return nil
}

func (m *MemoryCloud) Download(ctx context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	if m.downloadErr != nil {
		err := m.downloadErr
		m.mu.RUnlock()
		return nil, err
	}
	wire, ok := m.docs[id]
	m.mu.RUnlock()

	if !ok {
		return nil, nil // Not found
	}
	doc, err := m.codec.Decode(wire)
	if err != nil {
		return nil, dsync.PermanentRemote("download", err)
	}
	return doc, nil
}

// List returns metadata for all stored documents, most recently updated first.
func (m *MemoryCloud) List(ctx context.Context) ([]*model.DocumentMeta, error) {
	m.mu.RLock()
	metas := make([]*model.DocumentMeta, 0, len(m.docs))
	for _, wire := range m.docs {
		meta := wire.Meta()
		metas = append(metas, DecodeMeta(&meta))
	}
	m.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CloudTimestamp.After(metas[j].CloudTimestamp)
	})
	return metas, nil
}

// Delete removes the document. Deleting an absent ID is a no-op.
func (m *MemoryCloud) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

// SubscribeToChanges registers a push handler. Handlers are invoked
// synchronously from Upload and SimulatePush.
func (m *MemoryCloud) SubscribeToChanges(handler dsync.PushHandler) (func(), error) {
	m.mu.Lock()
	id := m.nextHandler
	m.nextHandler++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}, nil
}

// SimulatePush stores a document as if another device uploaded it and
// delivers it to all subscribers.
func (m *MemoryCloud) SimulatePush(doc *model.Document) error {
	wire, err := m.codec.Encode(doc)
	if err != nil {
		return err
	}
	wire.UpdatedAt = doc.CloudTimestamp

	m.mu.Lock()
	m.docs[wire.ID] = wire
	m.mu.Unlock()

	m.notify(wire)
	return nil
}

// SetAuthError injects an Authenticate failure. Pass nil to clear.
func (m *MemoryCloud) SetAuthError(err error) {
	m.mu.Lock()
	m.authErr = err
	m.mu.Unlock()
}

// SetUploadError injects an Upload failure. Pass nil to clear.
func (m *MemoryCloud) SetUploadError(err error) {
	m.mu.Lock()
	m.uploadErr = err
	m.mu.Unlock()
}

// SetDownloadError injects a Download failure. Pass nil to clear.
func (m *MemoryCloud) SetDownloadError(err error) {
	m.mu.Lock()
	m.downloadErr = err
	m.mu.Unlock()
}

// Len returns the number of stored documents.
func (m *MemoryCloud) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// notify delivers a change to all handlers, skipping the echo of this
// device's own writes.
func (m *MemoryCloud) notify(wire *WireDocument) {
	if wire.OriginDeviceID == m.deviceID {
		return
	}

	m.mu.RLock()
	handlers := make([]dsync.PushHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		doc, err := m.codec.Decode(wire)
		if err != nil {
			continue
		}
		h(doc)
	}
}

// Compile-time check that MemoryCloud implements the CloudStore interface.
var _ dsync.CloudStore = (*MemoryCloud)(nil)
