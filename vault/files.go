package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/types"
)

// List returns the entries of the folder rel, hiding dot entries (the upload temp area lives there).
// Folders are listed before files, each group by name.
func (r *Root) List(rel string) ([]types.StoredFile, error) {
	dir, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read folder: %w", err)
	}

	visible := lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !strings.HasPrefix(e.Name(), ".")
	})
	files := make([]types.StoredFile, 0, len(visible))
	for _, e := range visible {
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, storedFile(path.Join(cleanRel(rel), e.Name()), info))
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].IsFolder() != files[j].IsFolder() {
			return files[i].IsFolder()
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// Stat describes the entry at rel.
func (r *Root) Stat(rel string) (types.StoredFile, error) {
	full, err := r.Resolve(rel)
	if err != nil {
		return types.StoredFile{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.StoredFile{}, types.ErrNotFound
		}
		return types.StoredFile{}, fmt.Errorf("failed to stat: %w", err)
	}
	relPath, _ := r.Rel(full)
	return storedFile(relPath, info), nil
}

// CreateFolder creates folder name inside rel. The name is validated before anything is touched.
func (r *Root) CreateFolder(rel, name string) (types.StoredFile, error) {
	if !ValidFolderName(name) {
		return types.StoredFile{}, fmt.Errorf("%w: folder names may only contain letters, digits, '_' and '-' (max %d)", types.ErrInvalidName, MaxNameLength)
	}
	parent, err := r.Resolve(rel)
	if err != nil {
		return types.StoredFile{}, err
	}
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return types.StoredFile{}, types.ErrNotFound
	}
	full := filepath.Join(parent, name)
	if err := os.Mkdir(full, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return types.StoredFile{}, types.ErrAlreadyExists
		}
		return types.StoredFile{}, fmt.Errorf("failed to create folder: %w", err)
	}
	tool.DefaultLogger.Infof("[Vault] Created folder %s", full)
	return r.Stat(path.Join(cleanRel(rel), name))
}

// Delete removes the entry at rel, recursively for folders. The root itself cannot be deleted.
func (r *Root) Delete(rel string) error {
	full, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	if full == r.dir {
		return fmt.Errorf("%w: refusing to delete the storage root", types.ErrInvalidName)
	}
	if r.holdsReserved(full) {
		return fmt.Errorf("%w: folder holds the upload area", types.ErrPathOutsideRoot)
	}
	if _, err := os.Lstat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.ErrNotFound
		}
		return fmt.Errorf("failed to stat: %w", err)
	}
	if err := os.RemoveAll(full); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	tool.DefaultLogger.Infof("[Vault] Deleted %s", full)
	return nil
}

// Rename gives the entry at rel a new name within the same folder and returns its new description.
func (r *Root) Rename(rel, newName string) (types.StoredFile, error) {
	if !ValidEntryName(newName) {
		return types.StoredFile{}, fmt.Errorf("%w: name must be 1-%d characters and contain no path separators", types.ErrInvalidName, MaxNameLength)
	}
	oldFull, err := r.Resolve(rel)
	if err != nil {
		return types.StoredFile{}, err
	}
	if oldFull == r.dir {
		return types.StoredFile{}, fmt.Errorf("%w: refusing to rename the storage root", types.ErrInvalidName)
	}
	if r.holdsReserved(oldFull) {
		return types.StoredFile{}, fmt.Errorf("%w: folder holds the upload area", types.ErrPathOutsideRoot)
	}
	if _, err := os.Lstat(oldFull); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.StoredFile{}, types.ErrNotFound
		}
		return types.StoredFile{}, fmt.Errorf("failed to stat: %w", err)
	}
	newFull := filepath.Join(filepath.Dir(oldFull), newName)
	if !r.contains(newFull) || r.isReserved(newFull) {
		return types.StoredFile{}, types.ErrPathOutsideRoot
	}
	if _, err := os.Lstat(newFull); err == nil {
		return types.StoredFile{}, types.ErrAlreadyExists
	}
	if err := os.Rename(oldFull, newFull); err != nil {
		return types.StoredFile{}, fmt.Errorf("failed to rename: %w", err)
	}
	newRel, _ := r.Rel(newFull)
	return r.Stat(newRel)
}

func storedFile(rel string, info fs.FileInfo) types.StoredFile {
	f := types.StoredFile{
		Name:         info.Name(),
		Type:         types.KindFile,
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
		Path:         rel,
	}
	if info.IsDir() {
		f.Type = types.KindFolder
		f.Size = 0
	}
	return f
}

func cleanRel(rel string) string {
	rel = strings.Trim(strings.ReplaceAll(rel, "\\", "/"), "/")
	if rel == "" {
		return ""
	}
	return path.Clean(rel)
}
