package models

import "time"

// InboundMessage is a record consumed from an input topic.
// Key and Payload are nil when the broker record carries none.
type InboundMessage struct {
	Topic     string            `json:"topic"`
	Key       []byte            `json:"key,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`
	Partition int               `json:"partition"`
	Offset    int64             `json:"offset"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// ReplyRecord is a record a handler wants published to an output topic.
type ReplyRecord struct {
	Topic   string            `json:"topic"`
	Key     []byte            `json:"key,omitempty"`
	Payload []byte            `json:"payload"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Clone returns a deep copy of the record.
func (r ReplyRecord) Clone() ReplyRecord {
	out := ReplyRecord{
		Topic:   r.Topic,
		Key:     cloneBytes(r.Key),
		Payload: cloneBytes(r.Payload),
	}
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Delivery identifies where a published record landed.
type Delivery struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
}

// MessageHeader constants
const (
	HeaderReplyID       = "reply-id"
	HeaderReplyForTopic = "reply-for-topic"
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
