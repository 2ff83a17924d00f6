package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"dsync-go/internal/dsync"
	"dsync-go/internal/model"
)

const (
	httpTimeout      = 30 * time.Second
	reconnectBackoff = 5 * time.Second
)

var errNotAuthenticated = errors.New("not authenticated")

// HTTPCloud talks to a dsync relay server over REST, with remote changes
// delivered over a WebSocket. Sessions are JWT-based: Authenticate exchanges
// the device key for a bearer token.
type HTTPCloud struct {
	baseURL   string
	deviceID  string
	deviceKey string
	codec     *Codec
	client    *http.Client
	logger    dsync.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPCloud creates a relay-backed cloud store. baseURL must not end with
// a slash (e.g. "http://localhost:8484").
func NewHTTPCloud(baseURL, deviceID, deviceKey string, cipher dsync.PayloadCipher, logger dsync.Logger) *HTTPCloud {
	if logger == nil {
		logger = dsync.NewNopLogger()
	}
	return &HTTPCloud{
		baseURL:   baseURL,
		deviceID:  deviceID,
		deviceKey: deviceKey,
		codec:     NewCodec(cipher),
		client:    &http.Client{Timeout: httpTimeout},
		logger:    logger,
	}
}

// Authenticate exchanges the device key for a session token. A rejected key
// is permanent; an unreachable relay is transient.
func (h *HTTPCloud) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"device_id": h.deviceID,
		"key":       h.deviceKey,
	})
	if err != nil {
		return dsync.PermanentRemote("authenticate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return dsync.PermanentRemote("authenticate", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return dsync.TransientRemote("authenticate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus("authenticate", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return dsync.TransientRemote("authenticate", err)
	}
	if result.Token == "" {
		return dsync.PermanentRemote("authenticate", errors.New("empty token in login response"))
	}

	h.mu.Lock()
	h.token = result.Token
	h.mu.Unlock()
	return nil
}

func (h *HTTPCloud) IsAuthenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token != ""
}

func (h *HTTPCloud) Upload(ctx context.Context, doc *model.Document) error {
	data, err := h.codec.Marshal(doc)
	if err != nil {
		return dsync.PermanentRemote("upload", err)
	}

	resp, err := h.do(ctx, http.MethodPut, "/documents/"+doc.ID, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return h.statusError("upload", resp.StatusCode)
	}
	return nil
}

func (h *HTTPCloud) Download(ctx context.Context, id string) (*model.Document, error) {
	resp, err := h.do(ctx, http.MethodGet, "/documents/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil // Not found
	}
	if resp.StatusCode != http.StatusOK {
		return nil, h.statusError("download", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dsync.TransientRemote("download", err)
	}
	doc, err := h.codec.Unmarshal(data)
	if err != nil {
		return nil, dsync.PermanentRemote("download", err)
	}
	return doc, nil
}

func (h *HTTPCloud) List(ctx context.Context) ([]*model.DocumentMeta, error) {
	resp, err := h.do(ctx, http.MethodGet, "/documents", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, h.statusError("list", resp.StatusCode)
	}

	var wires []WireMeta
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, dsync.TransientRemote("list", err)
	}

	metas := make([]*model.DocumentMeta, len(wires))
	for i := range wires {
		metas[i] = DecodeMeta(&wires[i])
	}
	return metas, nil
}

func (h *HTTPCloud) Delete(ctx context.Context, id string) error {
	resp, err := h.do(ctx, http.MethodDelete, "/documents/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// A 404 means the delete already happened; idempotent success.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return h.statusError("delete", resp.StatusCode)
	}
	return nil
}

// SubscribeToChanges opens the relay's WebSocket and delivers every pushed
// change not originated by this device. The connection is re-dialed with a
// fixed backoff until the subscription is cancelled.
func (h *HTTPCloud) SubscribeToChanges(handler dsync.PushHandler) (func(), error) {
	h.mu.RLock()
	token := h.token
	h.mu.RUnlock()
	if token == "" {
		return nil, dsync.PermanentRemote("subscribe", errNotAuthenticated)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go h.readPushes(ctx, handler)
	return cancel, nil
}

func (h *HTTPCloud) readPushes(ctx context.Context, handler dsync.PushHandler) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := h.readPushesOnce(ctx, handler); err != nil && ctx.Err() == nil {
			h.logger.Warn("push connection lost, reconnecting", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (h *HTTPCloud) readPushesOnce(ctx context.Context, handler dsync.PushHandler) error {
	h.mu.RLock()
	token := h.token
	h.mu.RUnlock()

	conn, _, err := websocket.Dial(ctx, h.baseURL+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var wire WireDocument
		if err := json.Unmarshal(data, &wire); err != nil {
			h.logger.Warn("discarding malformed push", "error", err)
			continue
		}
		if wire.OriginDeviceID == h.deviceID {
			continue // our own write echoed back
		}

		doc, err := h.codec.Decode(&wire)
		if err != nil {
			h.logger.Warn("discarding undecodable push", "doc", wire.ID, "error", err)
			continue
		}
		handler(doc)
	}
}

// do issues an authenticated request. Network failures are transient.
func (h *HTTPCloud) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	h.mu.RLock()
	token := h.token
	h.mu.RUnlock()
	if token == "" {
		return nil, dsync.PermanentRemote(method+" "+path, errNotAuthenticated)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, reader)
	if err != nil {
		return nil, dsync.PermanentRemote(method+" "+path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, dsync.TransientRemote(method+" "+path, err)
	}
	return resp, nil
}

// statusError classifies an HTTP status and invalidates the session on an
// auth rejection so the next Start re-authenticates.
func (h *HTTPCloud) statusError(op string, status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		h.mu.Lock()
		h.token = ""
		h.mu.Unlock()
	}
	return classifyStatus(op, status)
}

// classifyStatus maps an HTTP status to a RemoteError. Server-side and
// throttling failures are retryable; client errors are not.
func classifyStatus(op string, status int) error {
	err := fmt.Errorf("unexpected status %d", status)
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return dsync.TransientRemote(op, err)
	case status >= 500:
		return dsync.TransientRemote(op, err)
	default:
		return dsync.PermanentRemote(op, err)
	}
}

// Compile-time check that HTTPCloud implements the CloudStore interface.
var _ dsync.CloudStore = (*HTTPCloud)(nil)
