package repository

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/pkg/crypto"
)

const sealedPrefix = "sealed:v1:"

var envLabel = []byte("kubehost/env/v1")

// ErrSealedEnv indicates a stored env blob is encrypted but no key is configured.
var ErrSealedEnv = errors.New("repository: env values are sealed and no encryption key is configured")

// EnvCodec turns env vars into the stored blob. With a key, the JSON is sealed
// with AES-GCM and stored base64 encoded behind a version prefix.
type EnvCodec struct {
	key string
}

// NewEnvCodec returns a codec; an empty key stores plain JSON.
func NewEnvCodec(key string) EnvCodec {
	return EnvCodec{key: strings.TrimSpace(key)}
}

// Sealed reports whether the codec encrypts.
func (c EnvCodec) Sealed() bool {
	return c.key != ""
}

// Encode renders vars for storage.
func (c EnvCodec) Encode(vars []domain.EnvVar) (string, error) {
	if vars == nil {
		vars = []domain.EnvVar{}
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("marshal env: %w", err)
	}
	if !c.Sealed() {
		return string(raw), nil
	}
	sealed, err := crypto.Seal(c.key, raw, envLabel)
	if err != nil {
		return "", fmt.Errorf("seal env: %w", err)
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode reverses Encode. Plain JSON blobs decode with or without a key.
func (c EnvCodec) Decode(blob string) ([]domain.EnvVar, error) {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(blob, sealedPrefix); ok {
		if !c.Sealed() {
			return nil, ErrSealedEnv
		}
		payload, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("decode sealed env: %w", err)
		}
		plain, err := crypto.Open(c.key, payload, envLabel)
		if err != nil {
			return nil, fmt.Errorf("open sealed env: %w", err)
		}
		blob = string(plain)
	}
	var vars []domain.EnvVar
	if err := json.Unmarshal([]byte(blob), &vars); err != nil {
		return nil, fmt.Errorf("unmarshal env: %w", err)
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}
