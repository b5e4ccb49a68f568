package download

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/vault"
)

// TokenResolver maps a token to the relative path it grants, without consuming it.
type TokenResolver interface {
	Peek(token string) (string, bool)
}

// Disposition selects how the browser should treat the body.
type Disposition int

const (
	// Attachment forces a download with a generic content type.
	Attachment Disposition = iota
	// Inline is for in-browser preview: sniffed content type and long-lived caching.
	Inline
)

// Responder writes token-gated file responses.
type Responder struct {
	tokens TokenResolver
	root   *vault.Root
}

func NewResponder(tokens TokenResolver, root *vault.Root) *Responder {
	return &Responder{
		tokens: tokens,
		root:   root,
	}
}

// Serve answers GET/HEAD ?token=... with the whole file (200) or one byte range (206).
//
//	400 missing token, 403 unknown or expired token, 404 file gone, 416 bad range.
func (r *Responder) Serve(w http.ResponseWriter, req *http.Request, disposition Disposition) {
	token := req.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing token")
		return
	}
	rel, ok := r.tokens.Peek(token)
	if !ok {
		writeError(w, http.StatusForbidden, "Invalid or expired token")
		return
	}
	full, err := r.root.Resolve(rel)
	if err != nil {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		tool.DefaultLogger.Errorf("[Download] Failed to open %s: %v", full, err)
		writeError(w, http.StatusInternalServerError, "Failed to open file")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	size := info.Size()
	name := filepath.Base(full)

	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	switch disposition {
	case Inline:
		h.Set("Content-Type", tool.DetectContentType(full))
		h.Set("Content-Disposition", tool.ContentDisposition("inline", name))
		h.Set("Cache-Control", "public, max-age=31536000")
	default:
		h.Set("Content-Type", tool.DefaultContentType)
		h.Set("Content-Disposition", tool.ContentDisposition("attachment", name))
		h.Set("Cache-Control", "no-cache")
	}

	rangeHeader := req.Header.Get("Range")
	if rangeHeader == "" {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if req.Method == http.MethodHead {
			return
		}
		if _, err := tool.CopyWithContext(req.Context(), w, f); err != nil {
			tool.DefaultLogger.Debugf("[Download] Full transfer of %s aborted: %v", rel, err)
		}
		return
	}

	rng, err := ParseRange(rangeHeader, size)
	if err != nil {
		h.Del("Content-Disposition")
		h.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		writeError(w, http.StatusRequestedRangeNotSatisfiable, "Range Not Satisfiable")
		return
	}

	h.Set("Content-Range", rng.ContentRange(size))
	h.Set("Content-Length", strconv.FormatInt(rng.Len(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if req.Method == http.MethodHead {
		return
	}
	section := io.NewSectionReader(f, rng.Start, rng.Len())
	if _, err := tool.CopyWithContext(req.Context(), w, section); err != nil {
		tool.DefaultLogger.Debugf("[Download] Range %d-%d of %s aborted: %v", rng.Start, rng.End, rel, err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body, err := sonic.Marshal(tool.FastReturnError(msg))
	if err != nil {
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
