package domain

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Bus channels and streams.
const (
	ChannelDetection  = "ch:detection"
	ChannelSubmission = "ch:submission"
	ChannelStatus     = "ch:status"
	StreamDetections  = "stream:detections"
)

// Event types carried on the bus.
const (
	EventDetection  = "detection"
	EventSubmission = "submission"
)

// BusEvent is the envelope published on the signal bus and forwarded to
// WebSocket clients. It is encoded as a protobuf Struct.
type BusEvent struct {
	Type    string
	At      time.Time
	Payload map[string]any
}

// Encode serialises the event to protobuf wire format.
func (e BusEvent) Encode() ([]byte, error) {
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = normaliseValue(v)
	}
	st, err := structpb.NewStruct(map[string]any{
		"type":    e.Type,
		"at":      e.At.UTC().Format(time.RFC3339Nano),
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("domain: encode event %s: %w", e.Type, err)
	}
	return proto.Marshal(st)
}

// DecodeBusEvent parses bytes produced by BusEvent.Encode.
func DecodeBusEvent(data []byte) (BusEvent, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return BusEvent{}, fmt.Errorf("domain: decode event: %w", err)
	}
	m := st.AsMap()
	ev := BusEvent{}
	ev.Type, _ = m["type"].(string)
	if at, ok := m["at"].(string); ok {
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
	}
	if p, ok := m["payload"].(map[string]any); ok {
		ev.Payload = p
	}
	return ev, nil
}

// normaliseValue converts integer types structpb does not accept into
// float64 or string. Large unsigned values are kept exact as strings.
func normaliseValue(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return fmt.Sprintf("%d", x)
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}
