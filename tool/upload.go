package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const copyBufferSize = 1 << 20 // 1MB

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyBufferSize)
		return &b
	},
}

// NextAvailablePath returns the first path under dir that does not exist, using fileName
// and if it exists, trying base-2.ext, base-3.ext, ... (e.g. txt.txt -> txt-2.txt, txt-3.txt).
func NextAvailablePath(dir, fileName string) string {
	try := filepath.Join(dir, fileName)
	if _, err := os.Stat(try); os.IsNotExist(err) {
		return try
	}
	for n := 2; ; n++ {
		try = filepath.Join(dir, NumberedName(fileName, n))
		if _, err := os.Stat(try); os.IsNotExist(err) {
			return try
		}
	}
}

// NextAvailableName is NextAvailablePath for names that only need to be unique within taken.
// The returned name is added to taken.
func NextAvailableName(taken map[string]struct{}, fileName string) string {
	name := fileName
	for n := 2; ; n++ {
		if _, ok := taken[name]; !ok {
			taken[name] = struct{}{}
			return name
		}
		name = NumberedName(fileName, n)
	}
}

// NumberedName turns report.pdf into report-<n>.pdf.
func NumberedName(fileName string, n int) string {
	ext := filepath.Ext(fileName)
	base := strings.TrimSuffix(filepath.Base(fileName), ext)
	if base == "" {
		base = fileName
		ext = ""
	}
	return fmt.Sprintf("%s-%d%s", base, n, ext)
}

// CopyWithContext copies from src to dst while respecting context cancellation.
// The context is checked before every read.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	bufp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bufp)
	buf := *bufp

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[0:nr])
			if nw < 0 || nr < nw {
				nw = 0
				if writeErr == nil {
					writeErr = fmt.Errorf("invalid write result")
				}
			}
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
