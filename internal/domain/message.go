package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Record types carried in the record_type header.
const (
	RecordTypeStation     = "station_metadata"
	RecordTypeObservation = "observation"
)

// Message is the serialized form destined for the message bus.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
	// Fingerprint is the record content hash without fetch-time fields.
	Fingerprint [32]byte
}

// IdentityKey returns the identity_key header, falling back to the routing key.
func (m Message) IdentityKey() string {
	if id, ok := m.Headers["identity_key"]; ok {
		return id
	}
	return string(m.Key)
}

// DedupID identifies this version of the record: the identity key plus a
// short content hash, so changed content is never mistaken for a redelivery.
func (m Message) DedupID() string {
	if m.Fingerprint == ([32]byte{}) {
		return m.IdentityKey()
	}
	return m.IdentityKey() + "." + hex.EncodeToString(m.Fingerprint[:8])
}

// SerializeStation encodes a station as JSON keyed by its routing key.
func SerializeStation(s StationMetadata) (Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return Message{}, fmt.Errorf("serialize station %s: %w", s.IdentityKey(), err)
	}
	return Message{
		Key:   []byte(s.RoutingKey()),
		Value: data,
		Headers: map[string]string{
			"identity_key": s.IdentityKey(),
			"record_type":  RecordTypeStation,
			"source":       string(s.Source),
			"updated_at":   s.UpdatedAt.Format(time.RFC3339),
		},
		Fingerprint: s.Fingerprint(),
	}, nil
}

// SerializeObservation encodes an observation as JSON keyed by its routing key.
func SerializeObservation(o Observation) (Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return Message{}, fmt.Errorf("serialize observation %s: %w", o.IdentityKey(), err)
	}
	return Message{
		Key:   []byte(o.RoutingKey()),
		Value: data,
		Headers: map[string]string{
			"identity_key": o.IdentityKey(),
			"record_type":  RecordTypeObservation,
			"source":       string(o.Source),
			"observed_at":  o.ObservedAt.Format(time.RFC3339),
		},
		Fingerprint: o.Fingerprint(),
	}, nil
}

func fingerprint(v any) [32]byte {
	// Validated records hold only finite floats.
	data, _ := json.Marshal(v) //nolint:errchkjson
	return sha256.Sum256(data)
}
