package executors

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"

	"github.com/helmsmith/conveyor/pkg/schema"
)

const defaultMaxReadSize = 50 * 1024 * 1024 // 50MB

// FileConfig confines the file executors to a root directory. Config paths
// are relative to Root; absolute paths and traversal outside Root are
// rejected.
type FileConfig struct {
	Root        string
	MaxReadSize int64
}

// resolvePath joins a config path onto the root, rejecting escapes.
func (cfg FileConfig) resolvePath(executor, path string) (string, error) {
	if path == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'path'", executor)
	}
	if cfg.Root == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%s: no root directory configured", executor)
	}
	if filepath.IsAbs(path) || !filepath.IsLocal(path) {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"%s: path %q escapes the configured root", executor, path)
	}
	return filepath.Join(cfg.Root, path), nil
}

// FileWriteExecutor implements the "file.write" node type. It writes content
// under the configured root and implements Compensate by removing the file
// it wrote, so a rollback pass undoes the write.
type FileWriteExecutor struct {
	cfg FileConfig
}

// NewFileWriteExecutor creates the file.write executor.
func NewFileWriteExecutor(cfg FileConfig) *FileWriteExecutor {
	return &FileWriteExecutor{cfg: cfg}
}

func (e *FileWriteExecutor) Type() string { return "file.write" }

func (e *FileWriteExecutor) Validate(config map[string]any) error {
	if stringParam(config, "path", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "file.write: missing required param 'path'")
	}
	if _, ok := config["content"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "file.write: missing required param 'content'")
	}
	return nil
}

func (e *FileWriteExecutor) Execute(_ context.Context, inv Invocation) (*Result, error) {
	path, err := e.cfg.resolvePath("file.write", stringParam(inv.Config, "path", ""))
	if err != nil {
		return nil, err
	}

	content, ok := inv.Config["content"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "file.write: 'content' must be a string")
	}
	mode := os.FileMode(intParam(inv.Config, "mode", 0o644))

	if boolParam(inv.Config, "create_dirs", false) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "file.write: create directories: %s", err.Error()).WithCause(err)
		}
	}

	data := []byte(content)
	if err := os.WriteFile(path, data, mode); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "file.write: %s", err.Error()).WithCause(err)
	}

	return &Result{Output: map[string]any{
		"path": path,
		"size": len(data),
	}}, nil
}

// Compensate removes the file recorded in the node's output. A file already
// gone counts as compensated.
func (e *FileWriteExecutor) Compensate(_ context.Context, inv Invocation, output any) error {
	path := ""
	if m, ok := output.(map[string]any); ok {
		path = stringParam(m, "path", "")
	}
	if path == "" {
		// Fall back to the config path when the output was lost.
		resolved, err := e.cfg.resolvePath("file.write", stringParam(inv.Config, "path", ""))
		if err != nil {
			return err
		}
		path = resolved
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeExecution, "file.write: undo write of %q: %s", path, err.Error()).WithCause(err)
	}
	return nil
}

// FileReadExecutor implements the "file.read" node type. Encoding is text,
// base64, or auto (base64 when the content looks binary).
type FileReadExecutor struct {
	cfg FileConfig
}

// NewFileReadExecutor creates the file.read executor.
func NewFileReadExecutor(cfg FileConfig) *FileReadExecutor {
	if cfg.MaxReadSize <= 0 {
		cfg.MaxReadSize = defaultMaxReadSize
	}
	return &FileReadExecutor{cfg: cfg}
}

func (e *FileReadExecutor) Type() string { return "file.read" }

func (e *FileReadExecutor) Validate(config map[string]any) error {
	if stringParam(config, "path", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "file.read: missing required param 'path'")
	}
	if enc := stringParam(config, "encoding", "auto"); enc != "text" && enc != "base64" && enc != "auto" {
		return schema.NewErrorf(schema.ErrCodeValidation, "file.read: invalid encoding %q", enc)
	}
	return nil
}

func (e *FileReadExecutor) Execute(_ context.Context, inv Invocation) (*Result, error) {
	path, err := e.cfg.resolvePath("file.read", stringParam(inv.Config, "path", ""))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "file.read: %s", err.Error()).WithCause(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, e.cfg.MaxReadSize))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "file.read: %s", err.Error()).WithCause(err)
	}

	enc := stringParam(inv.Config, "encoding", "auto")
	if enc == "auto" {
		if looksBinary(data) {
			enc = "base64"
		} else {
			enc = "text"
		}
	}

	var content string
	if enc == "base64" {
		content = base64.StdEncoding.EncodeToString(data)
	} else {
		content = string(data)
	}

	return &Result{Output: map[string]any{
		"path":     path,
		"content":  content,
		"encoding": enc,
		"size":     len(data),
	}}, nil
}

// looksBinary reports whether data contains a null byte in its first 8KB.
func looksBinary(data []byte) bool {
	check := data
	if len(check) > 8192 {
		check = check[:8192]
	}
	for _, b := range check {
		if b == 0 {
			return true
		}
	}
	return false
}
