package kafka

import (
	"maps"
	"slices"

	kafka "github.com/segmentio/kafka-go"
)

// headerMap flattens record headers. A repeated key keeps its last value.
func headerMap(headers []kafka.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

// kafkaHeaders converts headers in key order so equal maps produce equal records.
func kafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		out = append(out, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return out
}
