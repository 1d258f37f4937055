package executors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/helmsmith/conveyor/internal/secrets"
	"github.com/helmsmith/conveyor/pkg/schema"
)

// DigestExecutor implements the "digest" node type: SHA-2 hashing, with an
// optional HMAC key, over either a configured value or selected input
// fields. Non-string data is hashed as canonical JSON (sorted keys), so the
// digest is stable across map iteration order.
type DigestExecutor struct {
	vault secrets.Vault
}

// NewDigestExecutor creates the digest executor. vault may be nil when no
// config uses hmac_key_secret.
func NewDigestExecutor(vault secrets.Vault) *DigestExecutor {
	return &DigestExecutor{vault: vault}
}

func (e *DigestExecutor) Type() string { return "digest" }

func digestHash(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "digest: unsupported algorithm %q", algorithm)
	}
}

func (e *DigestExecutor) Validate(config map[string]any) error {
	if _, err := digestHash(stringParam(config, "algorithm", "")); err != nil {
		return err
	}
	_, hasData := config["data"]
	fields := stringSliceParam(config, "fields")
	if !hasData && len(fields) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "digest: requires 'data' or 'fields'")
	}
	if hasData && len(fields) > 0 {
		return schema.NewError(schema.ErrCodeValidation, "digest: 'data' and 'fields' are mutually exclusive")
	}
	return nil
}

func (e *DigestExecutor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	algorithm := stringParam(inv.Config, "algorithm", "")
	if algorithm == "" {
		algorithm = "sha256"
	}
	newHash, err := digestHash(algorithm)
	if err != nil {
		return nil, err
	}

	payload, err := digestPayload(inv)
	if err != nil {
		return nil, err
	}

	key, keyed, err := e.hmacKey(ctx, inv.Config)
	if err != nil {
		return nil, err
	}

	var h hash.Hash
	if keyed {
		h = hmac.New(newHash, key)
	} else {
		h = newHash()
	}
	h.Write(payload)

	return &Result{Output: map[string]any{
		"digest":    hex.EncodeToString(h.Sum(nil)),
		"algorithm": algorithm,
		"keyed":     keyed,
	}}, nil
}

// digestPayload selects the bytes to hash: the configured data value, or a
// canonical JSON object of the selected input fields.
func digestPayload(inv Invocation) ([]byte, error) {
	if raw, ok := inv.Config["data"]; ok {
		if s, isString := raw.(string); isString {
			return []byte(s), nil
		}
		return canonicalJSON(raw)
	}

	fields := stringSliceParam(inv.Config, "fields")
	if len(fields) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "digest: requires 'data' or 'fields'")
	}
	selected := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := inv.Input[f]; ok {
			selected[f] = v
		}
	}
	return canonicalJSON(selected)
}

func (e *DigestExecutor) hmacKey(ctx context.Context, config map[string]any) ([]byte, bool, error) {
	if ref := stringParam(config, "hmac_key_secret", ""); ref != "" {
		if e.vault == nil {
			return nil, false, schema.NewErrorf(schema.ErrCodeVault,
				"digest: hmac_key_secret references vault key %q but no vault is configured", ref)
		}
		key, err := e.vault.Resolve(ctx, ref)
		if err != nil {
			return nil, false, schema.NewErrorf(schema.ErrCodeVault,
				"digest: resolve hmac key %q: %s", ref, err.Error()).WithCause(err)
		}
		return key, true, nil
	}
	if key := stringParam(config, "hmac_key", ""); key != "" {
		return []byte(key), true, nil
	}
	return nil, false, nil
}

// canonicalJSON marshals a value for hashing. encoding/json writes map keys
// in sorted order at every level, which is the canonical form needed here.
func canonicalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "digest: marshal payload: %s", err.Error()).WithCause(err)
	}
	return b, nil
}
