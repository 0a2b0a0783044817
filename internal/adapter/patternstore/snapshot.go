package patternstore

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"deskmate/internal/domain"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func snapshotSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.NewCompiler().Compile(snapshotSchemaJSON)
	})
	return schema, schemaErr
}

// DecodeSnapshot validates data against the snapshot schema and the
// snapshot invariants, then decodes it.
func DecodeSnapshot(data []byte) (*domain.PatternSnapshot, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	sch, err := snapshotSchema()
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}
	if result := sch.Validate(raw); !result.IsValid() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSnapshotInvalid, result.Error())
	}

	var snap domain.PatternSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSnapshotInvalid, err)
	}
	if snap.Interactions == nil {
		snap.Interactions = []domain.Interaction{}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ReadSnapshotFile loads and validates a snapshot file.
func ReadSnapshotFile(path string) (*domain.PatternSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

// WriteSnapshotFile atomically writes snap as indented JSON. The parent
// directory is created when missing.
func WriteSnapshotFile(path string, snap *domain.PatternSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal snapshot", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return domain.WrapOp("create snapshot dir", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return domain.WrapOp("write snapshot", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.WrapOp("write snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.WrapOp("sync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.WrapOp("close snapshot", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return domain.WrapOp("chmod snapshot", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return domain.WrapOp("rename snapshot", err)
	}
	return nil
}
