package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/plannerd/internal/config"
)

// Secret builds a field for a config.Secret that logs only the value
// length. Use for classifier API keys and calendar credentials.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

// RedactedString builds a field whose value is replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactingEncoder filters string fields before they reach the output:
// fields whose key is on the deny list are replaced outright, and string
// values matching a credential pattern are replaced even under harmless
// keys. Non-string field types pass through untouched apart from the key
// check; deep struct redaction is the caller's job via explicit
// marshalers.
type redactingEncoder struct {
	zapcore.Encoder
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// newRedactingEncoder wraps base with the rules in cfg. A disabled cfg
// yields a pass-through wrapper.
func newRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*redactingEncoder, error) {
	if !cfg.Enabled {
		return &redactingEncoder{Encoder: base}, nil
	}

	patterns, err := cfg.compile()
	if err != nil {
		return nil, fmt.Errorf("redacting encoder: %w", err)
	}

	keys := make(map[string]struct{}, len(cfg.Keys))
	for _, k := range cfg.Keys {
		keys[strings.ToLower(k)] = struct{}{}
	}

	return &redactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

func (r *redactingEncoder) denied(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *redactingEncoder) AddString(key, val string) {
	if r.denied(key) {
		r.Encoder.AddString(key, "[REDACTED]")
		return
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			r.Encoder.AddString(key, "[REDACTED:pattern]")
			return
		}
	}
	r.Encoder.AddString(key, val)
}

func (r *redactingEncoder) AddByteString(key string, val []byte) {
	if r.denied(key) {
		r.Encoder.AddByteString(key, []byte("[REDACTED]"))
		return
	}
	r.Encoder.AddByteString(key, val)
}

func (r *redactingEncoder) AddBinary(key string, val []byte) {
	if r.denied(key) {
		r.Encoder.AddBinary(key, []byte("[REDACTED]"))
		return
	}
	r.Encoder.AddBinary(key, val)
}

func (r *redactingEncoder) AddReflected(key string, val interface{}) error {
	if r.denied(key) {
		r.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return r.Encoder.AddReflected(key, val)
}

func (r *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if r.denied(key) {
		r.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return r.Encoder.AddArray(key, arr)
}

func (r *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if r.denied(key) {
		r.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return r.Encoder.AddObject(key, obj)
}

// Clone keeps the rules while cloning the wrapped encoder, as zap does
// for every With call.
func (r *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{
		Encoder:  r.Encoder.Clone(),
		keys:     r.keys,
		patterns: r.patterns,
	}
}
