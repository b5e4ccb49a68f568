package types

import "errors"

var (
	ErrPathOutsideRoot     = errors.New("path resolves outside storage root")
	ErrInvalidName         = errors.New("invalid name")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidUploadID     = errors.New("invalid upload id")
	ErrInvalidChunkIndex   = errors.New("invalid chunk index")
	ErrChunkTooLarge       = errors.New("chunk too large")
	ErrSessionNotFound     = errors.New("upload session not found")
	ErrSessionBusy         = errors.New("upload session is being finalized")
	ErrIncompleteUpload    = errors.New("upload is missing chunks")
	ErrUnsatisfiableRange  = errors.New("range not satisfiable")
	ErrTokenInvalid        = errors.New("invalid or expired token")
	ErrPasswordRequired    = errors.New("password required")
	ErrInvalidPassword     = errors.New("invalid password")
	ErrTooManyFiles        = errors.New("too many files")
	ErrNoFiles             = errors.New("no files selected")
	ErrDownloadCanceled    = errors.New("download canceled")
	ErrUnexpectedRangeBody = errors.New("unexpected range response")
	ErrInvalidSize         = errors.New("invalid file size")
)
