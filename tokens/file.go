package tokens

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/moyoez/localvault/types"
)

// FilePersister keeps the token table as a JSON object {token: {filePath, expires}} in one file.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load returns an empty table when the file does not exist yet.
func (p *FilePersister) Load() (map[string]types.TokenRecord, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]types.TokenRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	tokens := map[string]types.TokenRecord{}
	if len(data) == 0 {
		return tokens, nil
	}
	if err := sonic.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return tokens, nil
}

// Save writes to a sibling temp file and renames it over the target.
func (p *FilePersister) Save(tokens map[string]types.TokenRecord) error {
	data, err := sonic.ConfigStd.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
