package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"go-kafkaguard/internal/ids"
	"go-kafkaguard/internal/jsoncodec"
)

var ErrEmptyKey = errors.New("envelope key cannot be empty")

// SequentialKey is the fixed key every ordered send to destination shares.
func SequentialKey(destination string) string {
	return destination + "-sequential-key"
}

// BuildUnordered wraps payload under a fresh random key.
func BuildUnordered(payload any, headers map[string]string) (Envelope, error) {
	return build(ids.NewKey(), payload, headers)
}

// BuildOrdered wraps payload under the sequential key of destination. Ordering only
// holds when the destination topic has a single partition and the producer keeps at
// most one request in flight.
func BuildOrdered(destination string, payload any, headers map[string]string) (Envelope, error) {
	if destination == "" {
		return Envelope{}, ErrEmptyKey
	}
	return build(SequentialKey(destination), payload, headers)
}

func build(key string, payload any, headers map[string]string) (Envelope, error) {
	value, err := encodeValue(payload)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{Key: key, Value: value}
	if len(headers) > 0 {
		env.Headers = maps.Clone(headers)
	}
	return env, nil
}

func encodeValue(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		if !jsoncodec.Valid(v) {
			return nil, errors.New("payload is not valid JSON")
		}
		return v, nil
	case nil:
		return json.RawMessage("null"), nil
	}
	b, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return b, nil
}

// Serialize encodes the envelope as JSON.
func Serialize(env Envelope) ([]byte, error) {
	b, err := jsoncodec.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}
	return b, nil
}

// Deserialize decodes an envelope produced by Serialize.
func Deserialize(data []byte) (Envelope, error) {
	var env Envelope
	if err := jsoncodec.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to deserialize envelope: %w", err)
	}
	return env, nil
}

// Decode unmarshals the envelope value into v.
func (e Envelope) Decode(v any) error {
	return jsoncodec.Unmarshal(e.Value, v)
}

// SerializeReply encodes a reply envelope as JSON.
func SerializeReply(r Reply) ([]byte, error) {
	b, err := jsoncodec.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize reply: %w", err)
	}
	return b, nil
}

// DeserializeReply decodes a reply envelope.
func DeserializeReply(data []byte) (Reply, error) {
	var r Reply
	if err := jsoncodec.Unmarshal(data, &r); err != nil {
		return Reply{}, fmt.Errorf("failed to deserialize reply: %w", err)
	}
	return r, nil
}
