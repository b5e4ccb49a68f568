package types

const (
	KindFile   = "file"
	KindFolder = "folder"
)

// StoredFile is a file or folder under the storage root.
type StoredFile struct {
	Name         string `json:"name"`
	Type         string `json:"type"` // file | folder
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"` // ms since epoch
	Path         string `json:"path"`         // relative to the storage root, slash separated
}

// IsFolder reports whether the entry is a folder.
func (f StoredFile) IsFolder() bool {
	return f.Type == KindFolder
}

type CreateFolderRequest struct {
	CurrentPath string `json:"currentPath"`
	FolderName  string `json:"folderName"`
}

type RenameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

type ListFilesResponse struct {
	Path  string       `json:"path"`
	Files []StoredFile `json:"files"`
}

type ZipRequest struct {
	Files []string `json:"files"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
