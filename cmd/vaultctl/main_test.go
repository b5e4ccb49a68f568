package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localvault/access"
	"github.com/moyoez/localvault/api"
	"github.com/moyoez/localvault/notify"
	"github.com/moyoez/localvault/tokens"
	"github.com/moyoez/localvault/upload"
	"github.com/moyoez/localvault/vault"
)

func startVault(t *testing.T, password string) (string, *vault.Root) {
	t.Helper()
	notify.SetUseNotify(false)
	root, err := vault.NewRoot(t.TempDir())
	require.NoError(t, err)
	tempRoot := filepath.Join(root.Dir(), ".tmp")
	require.NoError(t, root.Reserve(tempRoot))
	sessions := upload.NewSessions(time.Hour)
	gate, err := access.NewGate("", password)
	require.NoError(t, err)

	srv := api.NewServer(0, "http", api.Deps{
		Root:          root,
		Tokens:        tokens.NewStore(nil),
		Sessions:      sessions,
		Receiver:      upload.NewReceiver(tempRoot, sessions, 8<<20),
		Finalizer:     upload.NewFinalizer(root, tempRoot, sessions),
		Gate:          gate,
		MaxChunkBytes: 8 << 20,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL, root
}

func TestUploadListDownload(t *testing.T) {
	url, root := startVault(t, "")
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-server", url, "mkdir", "", "docs"}, &out))
	assert.Contains(t, out.String(), "created docs")

	data := make([]byte, 6<<20)
	_, err := rand.Read(data)
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(local, data, 0o644))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-server", url, "upload", "-to", "docs", local}, &out))
	assert.Contains(t, out.String(), "completed")
	stored, err := os.ReadFile(filepath.Join(root.Dir(), "docs", "big.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, stored))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-server", url, "ls", "docs"}, &out))
	assert.Contains(t, out.String(), "big.bin")
	assert.Contains(t, out.String(), "6.3 MB")

	outDir := t.TempDir()
	out.Reset()
	require.NoError(t, run(ctx, []string{"-server", url, "download", "-o", outDir, "docs/big.bin"}, &out))
	got, err := os.ReadFile(filepath.Join(outDir, "big.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestUploadRefusesToReplaceWithoutOverwrite(t *testing.T) {
	url, root := startVault(t, "")
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(root.Dir(), "notes.txt"), []byte("original"), 0o644))
	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("replacement"), 0o644))

	var out bytes.Buffer
	err := run(ctx, []string{"-server", url, "upload", local}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "already exists")
	got, err := os.ReadFile(filepath.Join(root.Dir(), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-server", url, "upload", "-overwrite", local}, &out))
	got, err = os.ReadFile(filepath.Join(root.Dir(), "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "replacement", string(got))
}

func TestTokenPromptsForPassword(t *testing.T) {
	url, root := startVault(t, "pw")
	require.NoError(t, os.WriteFile(filepath.Join(root.Dir(), "cert.pem"), []byte("x"), 0o644))

	prompts := 0
	readPassword = func() (string, error) {
		prompts++
		return "pw", nil
	}
	t.Cleanup(func() { readPassword = func() (string, error) { return "", nil } })

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-server", url, "token", "cert.pem"}, &out))
	assert.Equal(t, 1, prompts)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out.String()), url+"/api/download?token="))
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), []string{"frobnicate"}, &out))
	assert.Contains(t, out.String(), "usage: vaultctl")
	assert.Error(t, run(context.Background(), nil, &out))
}
