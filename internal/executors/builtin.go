package executors

import (
	"github.com/helmsmith/conveyor/internal/expressions"
	"github.com/helmsmith/conveyor/internal/secrets"
)

// BuiltinConfig carries the dependencies of the built-in executors.
type BuiltinConfig struct {
	HTTP   HTTPConfig
	File   FileConfig
	Vault  secrets.Vault
	Router *expressions.Router
}

// RegisterBuiltins registers all built-in node executors in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	all := make([]NodeExecutor, 0, 16)

	all = append(all, NewInjectExecutor())

	// HTTP executors.
	all = append(all,
		NewHTTPRequestExecutor(cfg.HTTP, cfg.Vault),
		NewHTTPGetExecutor(cfg.HTTP, cfg.Vault),
		NewHTTPPostExecutor(cfg.HTTP, cfg.Vault),
	)

	// Data shaping.
	all = append(all,
		NewTransformJQExecutor(),
		NewEvalExecutor(cfg.Router),
		NewMergeExecutor(),
		NewDigestExecutor(cfg.Vault),
	)

	// Flow control.
	all = append(all,
		NewDelayExecutor(),
		NewAssertExecutor(cfg.Router),
	)

	// Filesystem executors.
	all = append(all,
		NewFileWriteExecutor(cfg.File),
		NewFileReadExecutor(cfg.File),
	)

	for _, ex := range all {
		if err := reg.Register(ex); err != nil {
			return err
		}
	}
	return nil
}

// RegisterSubflow registers the subflow executor and returns it so the host
// can Bind the child runner once the front door exists.
func RegisterSubflow(reg *Registry) (*SubflowExecutor, error) {
	ex := NewSubflowExecutor()
	if err := reg.Register(ex); err != nil {
		return nil, err
	}
	return ex, nil
}
