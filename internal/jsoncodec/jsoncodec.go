package jsoncodec

import (
	"github.com/bytedance/sonic"
)

// sorted map keys; marshaler output (json.RawMessage) is written verbatim, no HTML escaping
var defaultConfig = sonic.Config{
	SortMapKeys:    true,
	ValidateString: true,
	CopyString:     true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}
