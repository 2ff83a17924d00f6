package cloud

import (
	"encoding/json"
	"fmt"
	"time"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
)

// WireDocument is the representation a document travels in, shared by every
// backend. The payload is raw bytes (base64 in JSON): when a cipher is
// configured it holds ciphertext, and the backend never sees plaintext. The
// content hash is always computed over the plaintext so all devices agree on
// it regardless of their encryption settings.
type WireDocument struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Payload        []byte    `json:"payload"`
	ContentHash    string    `json:"contentHash"`
	UpdatedAt      time.Time `json:"updatedAt"`
	OriginDeviceID string    `json:"originDeviceId"`
	SizeBytes      int64     `json:"sizeBytes"`
}

// WireMeta is the payload-free listing representation.
type WireMeta struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ContentHash    string    `json:"contentHash"`
	UpdatedAt      time.Time `json:"updatedAt"`
	OriginDeviceID string    `json:"originDeviceId"`
	SizeBytes      int64     `json:"sizeBytes"`
}

// Meta strips the payload from a wire document.
func (w *WireDocument) Meta() WireMeta {
	return WireMeta{
		ID:             w.ID,
		Name:           w.Name,
		ContentHash:    w.ContentHash,
		UpdatedAt:      w.UpdatedAt,
		OriginDeviceID: w.OriginDeviceID,
		SizeBytes:      w.SizeBytes,
	}
}

// Codec converts between local documents and their wire form, applying the
// optional payload cipher. A nil cipher passes payloads through unchanged.
type Codec struct {
	cipher dsync.PayloadCipher
}

// NewCodec creates a codec with the given cipher. cipher may be nil.
func NewCodec(cipher dsync.PayloadCipher) *Codec {
	return &Codec{cipher: cipher}
}

// Encode converts a local document to wire form. The wire timestamp is the
// document's local mutation time: uploading publishes "my copy as of when I
// changed it", not "as of when the upload happened".
func (c *Codec) Encode(doc *model.Document) (*WireDocument, error) {
	payload := []byte(doc.Payload)
	if c.cipher != nil {
		enc, err := c.cipher.Encrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("encrypting payload: %w", err)
		}
		payload = enc
	}
	return &WireDocument{
		ID:             doc.ID,
		Name:           doc.Name,
		Payload:        payload,
		ContentHash:    doc.ContentHash,
		UpdatedAt:      doc.LocalTimestamp,
		OriginDeviceID: doc.OriginDeviceID,
		SizeBytes:      doc.SizeBytes,
	}, nil
}

// Decode converts a wire document to its local form. The wire timestamp maps
// to the cloud timestamp; the local timestamp is the engine's business.
func (c *Codec) Decode(w *WireDocument) (*model.Document, error) {
	payload := w.Payload
	if c.cipher != nil {
		dec, err := c.cipher.Decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("decrypting payload: %w", err)
		}
		payload = dec
	}
	return &model.Document{
		ID:             w.ID,
		Name:           w.Name,
		Payload:        json.RawMessage(payload),
		ContentHash:    w.ContentHash,
		CloudTimestamp: w.UpdatedAt,
		OriginDeviceID: w.OriginDeviceID,
		SizeBytes:      w.SizeBytes,
		ConflictState:  model.ConflictNone,
	}, nil
}

// DecodeMeta converts a wire listing entry to local metadata.
func DecodeMeta(w *WireMeta) *model.DocumentMeta {
	return &model.DocumentMeta{
		ID:             w.ID,
		Name:           w.Name,
		ContentHash:    w.ContentHash,
		CloudTimestamp: w.UpdatedAt,
		OriginDeviceID: w.OriginDeviceID,
		SizeBytes:      w.SizeBytes,
		ConflictState:  model.ConflictNone,
	}
}

// Marshal encodes a document to wire JSON.
func (c *Codec) Marshal(doc *model.Document) ([]byte, error) {
	wire, err := c.Encode(doc)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshaling wire document: %w", err)
	}
	return data, nil
}

// Unmarshal decodes wire JSON to a document.
func (c *Codec) Unmarshal(data []byte) (*model.Document, error) {
	var wire WireDocument
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshaling wire document: %w", err)
	}
	return c.Decode(&wire)
}
