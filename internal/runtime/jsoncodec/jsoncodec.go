// Package jsoncodec is the JSON codec shared by event serialization.
package jsoncodec

import (
	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// MarshalToString avoids the extra copy when the result travels as text,
// as with Postgres notification payloads.
func MarshalToString(v any) (string, error) {
	return defaultConfig.MarshalToString(v)
}

func UnmarshalFromString(data string, v any) error {
	return defaultConfig.UnmarshalFromString(data, v)
}
