package api

import (
	"archive/zip"
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localvault/access"
	"github.com/moyoez/localvault/api/notifyhub"
	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tokens"
	"github.com/moyoez/localvault/types"
	"github.com/moyoez/localvault/upload"
	"github.com/moyoez/localvault/vault"
)

type testEnv struct {
	root    *vault.Root
	tokens  *tokens.Store
	handler http.Handler
}

func newTestEnv(t *testing.T, password string) *testEnv {
	t.Helper()
	notify.SetUseNotify(false)

	root, err := vault.NewRoot(t.TempDir())
	require.NoError(t, err)
	tempRoot := filepath.Join(root.Dir(), ".tmp")
	require.NoError(t, root.Reserve(tempRoot))
	sessions := upload.NewSessions(time.Hour)
	gate, err := access.NewGate("admin", password)
	require.NoError(t, err)
	store := tokens.NewStore(nil)

	srv := NewServer(0, "http", Deps{
		Root:              root,
		Tokens:            store,
		Sessions:          sessions,
		Receiver:          upload.NewReceiver(tempRoot, sessions, 1<<20),
		Finalizer:         upload.NewFinalizer(root, tempRoot, sessions),
		Gate:              gate,
		Hub:               notifyhub.New(),
		MaxChunkBytes:     1 << 20,
		AttemptsPerMinute: 3,
	})
	return &testEnv{root: root, tokens: store, handler: srv.Handler()}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := sonic.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func (e *testEnv) postChunk(t *testing.T, uploadID string, index int, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("uploadId", uploadID))
	require.NoError(t, mw.WriteField("chunkIndex", strconv.Itoa(index)))
	part, err := mw.CreateFormFile("chunk", "blob")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload/chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func (e *testEnv) writeFile(t *testing.T, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(e.root.Dir(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestUploadChunksAndFinalize(t *testing.T) {
	e := newTestEnv(t, "")
	parts := [][]byte{[]byte("hello "), []byte("chunked "), []byte("world")}

	for _, i := range []int{2, 0, 1} {
		w := e.postChunk(t, "up-1", i, parts[i])
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, decode[types.UploadChunkResponse](t, w).Success)
	}

	w := e.do(httptest.NewRequest(http.MethodGet, "/api/upload/status?uploadId=up-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[types.UploadStatusResponse](t, w)
	assert.Equal(t, 3, status.ChunksReceived)
	assert.Empty(t, status.MissingChunks)

	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "up-1", FileName: "greeting.txt", TotalChunks: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[types.FinalizeUploadResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "greeting.txt", resp.Path)

	got, err := os.ReadFile(filepath.Join(e.root.Dir(), "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello chunked world", string(got))

	require.Equal(t, http.StatusOK, e.postChunk(t, "up-2", 0, []byte("bye")).Code)
	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "up-2", FileName: "greeting.txt"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["exists"])
	got, err = os.ReadFile(filepath.Join(e.root.Dir(), "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello chunked world", string(got))

	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "up-2", FileName: "greeting.txt", Overwrite: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err = os.ReadFile(filepath.Join(e.root.Dir(), "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bye", string(got))
}

func TestUploadErrors(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.postChunk(t, "../evil", 0, []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.postChunk(t, "ok", -1, []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Equal(t, http.StatusOK, e.postChunk(t, "gappy", 0, []byte("a")).Code)
	require.Equal(t, http.StatusOK, e.postChunk(t, "gappy", 2, []byte("c")).Code)
	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "gappy", FileName: "f.txt"})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, []any{float64(1)}, body["missingChunks"])

	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "nobody", FileName: "f.txt"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "gappy", FileName: "f.txt", CurrentPath: "../../etc"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/upload/status?uploadId=unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.postChunk(t, "big", 0, make([]byte, 1<<20+512))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPrepareAndRangeDownload(t *testing.T) {
	e := newTestEnv(t, "")
	data := bytes.Repeat([]byte("0123456789"), 100)
	e.writeFile(t, "docs/data.bin", data)

	w := e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "docs/data.bin"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	link := decode[types.PrepareDownloadResponse](t, w).DownloadURL
	require.True(t, strings.HasPrefix(link, "/api/download?token="))

	req := httptest.NewRequest(http.MethodGet, link, nil)
	req.Header.Set("Range", "bytes=100-199")
	w = e.do(req)
	require.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 100-199/1000", w.Header().Get("Content-Range"))
	assert.Equal(t, data[100:200], w.Body.Bytes())

	// tokens are reusable until they expire
	w = e.do(httptest.NewRequest(http.MethodGet, link, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `attachment; filename="data.bin"`)

	req = httptest.NewRequest(http.MethodGet, link, nil)
	req.Header.Set("Range", "bytes=900-1000")
	w = e.do(req)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "bytes */1000", w.Header().Get("Content-Range"))

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/download?token=nope", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/download", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "docs/missing.bin"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "../outside"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPasswordProtectedDownload(t *testing.T) {
	e := newTestEnv(t, "hunter2")
	e.writeFile(t, "secret.pem", []byte("-----BEGIN-----"))
	e.writeFile(t, "notes.txt", []byte("plain"))

	w := e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "notes.txt"})
	require.Equal(t, http.StatusOK, w.Code)

	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "secret.pem"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decode[types.PrepareDownloadResponse](t, w)
	assert.True(t, resp.RequiresAuth)
	assert.Equal(t, "Password required.", resp.Reason)

	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "secret.pem", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid password.", decode[types.PrepareDownloadResponse](t, w).Reason)

	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "secret.pem", Password: "hunter2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode[types.PrepareDownloadResponse](t, w).DownloadURL)

	// three password attempts per minute per IP
	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "secret.pem", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: "secret.pem", Password: "hunter2"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = e.postJSON(t, "/api/media/token", types.MediaTokenRequest{FilePath: "secret.pem"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMediaPreview(t *testing.T) {
	e := newTestEnv(t, "")
	png := []byte("\x89PNG\r\n\x1a\n0000000000000000")
	e.writeFile(t, "pics/shot", png)

	w := e.postJSON(t, "/api/media/token", types.MediaTokenRequest{FilePath: "pics/shot"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token := decode[types.MediaTokenResponse](t, w).Token
	require.NotEmpty(t, token)

	w = e.do(httptest.NewRequest(http.MethodGet, "/api/media?token="+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "max-age=31536000")
	assert.Equal(t, png, w.Body.Bytes())

	w = e.postJSON(t, "/api/media/token", types.MediaTokenRequest{FilePath: "pics"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestZipDownload(t *testing.T) {
	e := newTestEnv(t, "")
	e.writeFile(t, "a/report.txt", []byte("one"))
	e.writeFile(t, "b/report.txt", []byte("two"))

	w := e.postJSON(t, "/api/download/zip", types.ZipRequest{Files: []string{"a/report.txt", "b/report.txt", "missing.txt"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "selected_files_")

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "report.txt", zr.File[0].Name)
	assert.Equal(t, "report-2.txt", zr.File[1].Name)

	w = e.postJSON(t, "/api/download/zip", types.ZipRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	many := make([]string, 51)
	for i := range many {
		many[i] = "a/report.txt"
	}
	w = e.postJSON(t, "/api/download/zip", types.ZipRequest{Files: many})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestZipRequiresPasswordForProtectedFiles(t *testing.T) {
	e := newTestEnv(t, "hunter2")
	e.writeFile(t, "secret.pem", []byte("PRIVATE-KEY"))
	e.writeFile(t, "keys/id.key", []byte("ID-KEY"))
	e.writeFile(t, "notes.txt", []byte("hello"))

	spellings := []string{"secret.pem", "secret.pem/", "secret.pem/.", "./secret.pem/", "/secret.pem", "keys/../keys/id.key", "keys//id.key/"}
	for _, p := range spellings {
		w := e.postJSON(t, "/api/download/zip", types.ZipRequest{Files: []string{"notes.txt", p}})
		if p == "keys/../keys/id.key" {
			assert.Equal(t, http.StatusForbidden, w.Code, p)
			continue
		}
		require.Equal(t, http.StatusUnauthorized, w.Code, p)
		assert.True(t, decode[types.PrepareDownloadResponse](t, w).RequiresAuth, p)
		assert.NotContains(t, w.Body.String(), "PRIVATE-KEY", p)
	}

	w := e.postJSON(t, "/api/download/zip", types.ZipRequest{Files: []string{"notes.txt"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTempAreaIsUnreachable(t *testing.T) {
	e := newTestEnv(t, "")
	require.Equal(t, http.StatusOK, e.postChunk(t, "victim", 0, []byte("in flight")).Code)
	victim := filepath.Join(e.root.Dir(), ".tmp", "victim")

	for _, p := range []string{".tmp/victim/0", "./.tmp/victim/0", ".tmp/victim/0/."} {
		w := e.postJSON(t, "/api/download/prepare", types.PrepareDownloadRequest{FilePath: p})
		assert.Equal(t, http.StatusForbidden, w.Code, p)
		w = e.postJSON(t, "/api/media/token", types.MediaTokenRequest{FilePath: p})
		assert.Equal(t, http.StatusForbidden, w.Code, p)
	}
	w := e.postJSON(t, "/api/download/zip", types.ZipRequest{Files: []string{".tmp/victim/0"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	for _, p := range []string{".tmp", ".tmp/", ".tmp/victim"} {
		w = e.do(httptest.NewRequest(http.MethodDelete, "/api/files?path="+p, nil))
		assert.Equal(t, http.StatusForbidden, w.Code, p)
	}
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/files?path=.tmp", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Equal(t, http.StatusOK, e.postChunk(t, "intruder", 0, []byte("overwrite")).Code)
	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "intruder", FileName: "0", CurrentPath: ".tmp/victim", Overwrite: true})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.postJSON(t, "/api/upload/finalize", types.FinalizeUploadRequest{UploadID: "intruder", FileName: ".tmp"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	e.writeFile(t, "plain.txt", []byte("x"))
	w = e.postJSON(t, "/api/files/rename", types.RenameRequest{Path: "plain.txt", NewName: ".tmp"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	got, err := os.ReadFile(filepath.Join(victim, "0"))
	require.NoError(t, err)
	assert.Equal(t, "in flight", string(got))
}

func TestFilesCRUD(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.postJSON(t, "/api/files/folder", types.CreateFolderRequest{FolderName: "My-Folder_1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.postJSON(t, "/api/files/folder", types.CreateFolderRequest{FolderName: "bad name!"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	_, err := os.Stat(filepath.Join(e.root.Dir(), "bad name!"))
	assert.True(t, os.IsNotExist(err))

	w = e.postJSON(t, "/api/files/folder", types.CreateFolderRequest{FolderName: "My-Folder_1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	e.writeFile(t, "My-Folder_1/a.txt", []byte("x"))
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/files?path=", nil))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[types.ListFilesResponse](t, w)
	require.Len(t, list.Files, 1)
	assert.Equal(t, types.KindFolder, list.Files[0].Type)
	assert.Equal(t, "My-Folder_1", list.Files[0].Name)

	w = e.postJSON(t, "/api/files/rename", types.RenameRequest{Path: "My-Folder_1/a.txt", NewName: "b.txt"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	_, err = os.Stat(filepath.Join(e.root.Dir(), "My-Folder_1", "b.txt"))
	require.NoError(t, err)

	w = e.postJSON(t, "/api/files/rename", types.RenameRequest{Path: "My-Folder_1/b.txt", NewName: "../c.txt"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(httptest.NewRequest(http.MethodDelete, "/api/files?path=My-Folder_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	_, err = os.Stat(filepath.Join(e.root.Dir(), "My-Folder_1"))
	assert.True(t, os.IsNotExist(err))

	w = e.do(httptest.NewRequest(http.MethodDelete, "/api/files?path=My-Folder_1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(httptest.NewRequest(http.MethodGet, "/api/files?path=../", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t, "hunter2")
	w := e.postJSON(t, "/api/auth/login", types.LoginRequest{Username: "admin", Password: "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = e.postJSON(t, "/api/auth/login", types.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSelfRoutesAreLocalOnly(t *testing.T) {
	e := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/self/v1/status", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, http.StatusForbidden, e.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/self/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, w)
	assert.Equal(t, true, status["running"])
	assert.Equal(t, true, status["notify_ws_enabled"])

	req = httptest.NewRequest(http.MethodGet, "/api/self/v1/share-qr?token=abc&host=192.168.1.5:8787", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	w = e.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	req = httptest.NewRequest(http.MethodGet, "/api/self/v1/share-qr", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	assert.Equal(t, http.StatusBadRequest, e.do(req).Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/download", nil)
	w := e.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
