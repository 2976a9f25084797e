package agent

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RemoteClient is the HTTP transport EventsSender posts envelopes through.
type RemoteClient interface {
	Post(ctx context.Context, url string, body []byte) error
	Close() error
}

// DefaultEventsSender serializes a batch of events to the collector's wire
// envelope: JSON array, zlib-compressed, base64-encoded.
type DefaultEventsSender struct {
	client       RemoteClient
	token        string
	clusterName  string
	collectorURL string
}

// NewEventsSender builds an EventsSender bound to client.
func NewEventsSender(client RemoteClient, token, clusterName, collectorURL string) *DefaultEventsSender {
	return &DefaultEventsSender{
		client:       client,
		token:        token,
		clusterName:  clusterName,
		collectorURL: collectorURL,
	}
}

// SendEvents is a no-op on an empty batch; otherwise it builds and posts the
// envelope described in SPEC_FULL.md §6.
func (s *DefaultEventsSender) SendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	dicts := make([]map[string]interface{}, len(events))
	for i, e := range events {
		dicts[i] = e.ToWireDict()
	}

	payload, err := json.Marshal(dicts)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return fmt.Errorf("compress events: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress events: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	envelope := map[string]string{
		"epsagon_token":  s.token,
		"cluster_name":   s.clusterName,
		"data":           encoded,
		"correlation_id": uuid.New().String(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	return s.client.Post(ctx, s.collectorURL, body)
}
