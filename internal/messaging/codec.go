// Package messaging connects the dispatcher to an AMQP broker. Consumer
// decodes inbound event envelopes and replies with outcomes; Publisher
// fans controller instructions out on a topic exchange.
package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/forgo/queuedesk/internal/model"
)

// Content types accepted on the wire
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

var (
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrUnknownEventType       = errors.New("unknown event type")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("messaging: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("messaging: CBOR decoder initialization failed: " + err.Error())
	}
}

// Envelope wraps one event on the wire
type Envelope struct {
	Type    model.EventType `json:"type"`
	Payload any             `json:"payload"`
}

type jsonEnvelope struct {
	Type    model.EventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type cborEnvelope struct {
	Type    model.EventType `json:"type"`
	Payload cbor.RawMessage `json:"payload"`
}

// normalize strips parameters such as "; charset=utf-8" and defaults to JSON
func normalize(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	ct = strings.TrimSpace(strings.ToLower(ct))
	if ct == "" {
		return ContentTypeJSON
	}
	return ct
}

// Marshal encodes v in the given content type
func Marshal(contentType string, v any) ([]byte, error) {
	switch normalize(contentType) {
	case ContentTypeJSON:
		return json.Marshal(v)
	case ContentTypeCBOR:
		return encMode.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
}

// EncodeEvent wraps ev in an envelope
func EncodeEvent(contentType string, ev model.Event) ([]byte, error) {
	return Marshal(contentType, Envelope{Type: ev.Type(), Payload: ev})
}

// DecodeEvent reads an envelope and decodes its payload into the named variant
func DecodeEvent(contentType string, body []byte) (model.Event, error) {
	var (
		eventType model.EventType
		decode    func(v any) error
	)

	switch normalize(contentType) {
	case ContentTypeJSON:
		var env jsonEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("failed to decode envelope: %w", err)
		}
		eventType = env.Type
		decode = func(v any) error { return json.Unmarshal(env.Payload, v) }
	case ContentTypeCBOR:
		var env cborEnvelope
		if err := decMode.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("failed to decode envelope: %w", err)
		}
		eventType = env.Type
		decode = func(v any) error { return decMode.Unmarshal(env.Payload, v) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}

	ev, ok := model.NewEvent(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if err := decode(ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", eventType, err)
	}
	return ev, nil
}
