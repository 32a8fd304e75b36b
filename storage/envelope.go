package storage

import (
	"encoding/json"
	"fmt"
)

const (
	envelopeVer = 1
	SchemeJSON  = "json"
)

// Envelope is a stored record: a versioned, scheme-tagged payload.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Data    []byte `json:"data"`
	Version uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of env.
func (env *Envelope) Clone() *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Ver:     env.Ver,
		Scheme:  env.Scheme,
		Data:    append([]byte(nil), env.Data...),
		Version: env.Version,
	}
}

// EncodeJSON wraps the JSON form of v in an Envelope at the given version.
func EncodeJSON(v any, version uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Envelope{Ver: envelopeVer, Scheme: SchemeJSON, Data: data, Version: version}, nil
}

// DecodeJSON unmarshals the payload of env into v.
func DecodeJSON(env *Envelope, v any) error {
	if env.Ver != envelopeVer {
		return fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	if env.Scheme != SchemeJSON {
		return fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}
	return json.Unmarshal(env.Data, v)
}
