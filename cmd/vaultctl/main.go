// Command vaultctl is a command line client for a localvault server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/moyoez/localvault/tool"
	"github.com/moyoez/localvault/transfer"
	"github.com/moyoez/localvault/types"
)

const usage = `usage: vaultctl [-server URL] <command> [args]

commands:
  ls [path]                                 list a folder
  mkdir <parent> <name>                     create a folder
  upload [-to dir] [-overwrite] <file>...   upload local files
  download [-o dir] <path>...               download files with parallel range requests
  token <path>                              print a download link for a file
`

// readPassword is swapped in tests.
var readPassword = func() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("password required but stdin is not a terminal; use -password")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

func main() {
	tool.InitLogger()
	tool.SetLogMode(os.Getenv("VAULTCTL_LOG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("vaultctl", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	server := global.String("server", envOr("VAULT_SERVER", "https://127.0.0.1:8787"), "vault server base URL")
	if err := global.Parse(args); err != nil || global.NArg() == 0 {
		fmt.Fprint(out, usage)
		if err != nil {
			return err
		}
		return errors.New("missing command")
	}

	client, err := transfer.NewClient(*server)
	if err != nil {
		return err
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "ls":
		dir := ""
		if len(rest) > 0 {
			dir = rest[0]
		}
		return list(ctx, client, dir, out)
	case "mkdir":
		if len(rest) != 2 {
			return errors.New("mkdir needs <parent> <name>")
		}
		if err := client.CreateFolder(ctx, rest[0], rest[1]); err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s\n", path.Join(rest[0], rest[1]))
		return nil
	case "upload":
		return uploadFiles(ctx, client, rest, out)
	case "download":
		return downloadFiles(ctx, client, rest, out)
	case "token":
		if len(rest) != 1 {
			return errors.New("token needs <path>")
		}
		link, err := prepareWithPrompt(ctx, client, rest[0], "")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, link)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func list(ctx context.Context, client *transfer.Client, dir string, out io.Writer) error {
	files, err := client.List(ctx, dir)
	if err != nil {
		return err
	}
	table := newTable(out, "Name", "Type", "Size", "Modified")
	for _, f := range files {
		size := "-"
		if !f.IsFolder() {
			size = humanize.Bytes(uint64(f.Size))
		}
		table.Append([]string{f.Name, f.Type, size, humanize.Time(time.UnixMilli(f.LastModified))})
	}
	table.Render()
	return nil
}

func uploadFiles(ctx context.Context, client *transfer.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	to := fs.String("to", "", "destination folder in the vault")
	overwrite := fs.Bool("overwrite", false, "replace files that already exist in the vault")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("upload needs at least one file")
	}

	sources := make([]transfer.Source, 0, fs.NArg())
	for _, name := range fs.Args() {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s is a directory", name)
		}
		sources = append(sources, transfer.Source{Name: filepath.Base(name), Size: info.Size(), Reader: f})
	}

	uploader := transfer.NewUploader(client)
	uploader.SetOverwrite(*overwrite)
	items := uploader.UploadAll(ctx, sources, *to)
	table := newTable(out, "File", "Size", "Status", "Stored At")
	failed := 0
	for _, it := range items {
		status := string(it.Status)
		if it.Status == types.UploadError {
			failed++
			status += ": " + it.Error
		}
		table.Append([]string{it.FileName, humanize.Bytes(uint64(it.Size)), status, it.StoredAt})
	}
	table.Render()
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(items))
	}
	return nil
}

func downloadFiles(ctx context.Context, client *transfer.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	outDir := fs.String("o", ".", "local output folder")
	password := fs.String("password", "", "vault password for protected files")
	parallel := fs.Int("parallel", transfer.DefaultParallelChunks, "range requests per file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("download needs at least one path")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	save := func(name string, data []byte) (string, error) {
		dest := tool.NextAvailablePath(*outDir, name)
		return dest, os.WriteFile(dest, data, 0o644)
	}
	d := transfer.NewDownloader(client, save)
	d.SetParallel(*parallel)

	table := newTable(out, "File", "Size", "Status", "Speed", "Saved To")
	failed := 0
	for _, remote := range fs.Args() {
		stored, err := client.Stat(ctx, remote)
		if err != nil {
			return err
		}
		if stored.IsFolder() {
			return fmt.Errorf("%s is a folder", remote)
		}
		item, err := d.Download(ctx, stored.Path, stored.Name, stored.Size, *password)
		var authErr *transfer.AuthRequiredError
		if errors.As(err, &authErr) && *password == "" {
			pw, perr := readPassword()
			if perr != nil {
				return perr
			}
			*password = pw
			item, err = d.Download(ctx, stored.Path, stored.Name, stored.Size, *password)
		}
		status := string(item.Status)
		if err != nil {
			failed++
			status = "error: " + err.Error()
		}
		table.Append([]string{stored.Name, humanize.Bytes(uint64(stored.Size)), status, humanize.Bytes(uint64(item.Speed)) + "/s", item.SavedTo})
	}
	table.Render()
	if failed > 0 {
		return fmt.Errorf("%d downloads failed", failed)
	}
	return nil
}

// prepareWithPrompt asks for the password once when the server wants it.
func prepareWithPrompt(ctx context.Context, client *transfer.Client, remote, password string) (string, error) {
	link, err := client.PrepareDownload(ctx, strings.TrimPrefix(remote, "/"), password)
	var authErr *transfer.AuthRequiredError
	if errors.As(err, &authErr) && password == "" {
		pw, perr := readPassword()
		if perr != nil {
			return "", perr
		}
		return client.PrepareDownload(ctx, strings.TrimPrefix(remote, "/"), pw)
	}
	return link, err
}
