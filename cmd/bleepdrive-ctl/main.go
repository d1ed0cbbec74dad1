// Package main is the entry point for bleepdrive-ctl, a command-line client
// that runs single drive operations against a configured disk.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bleepstore/bleepdrive/internal/config"
	"github.com/bleepstore/bleepdrive/internal/drive"
	"github.com/bleepstore/bleepdrive/internal/logging"
	"github.com/bleepstore/bleepdrive/internal/storage"
)

// Swapped by tests.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

const usage = "Usage: bleepdrive-ctl <command> [flags] <args>"

type command struct {
	args string
	run  func(ctx context.Context, disk storage.Storage, args []string) error
	// flags registers command specific flags before parsing.
	flags func(fs *flag.FlagSet)
}

var (
	putContentType  *string
	putFile         *string
	getEncoding     *string
	copyDestBucket  *string
	copyContentType *string
	signExpiry      *time.Duration
	signMethod      *string
	signContentType *string
	signDisposition *string
)

var commands = map[string]command{
	"exists": {args: "<path>", run: runExists},
	"get": {args: "<path>", run: runGet, flags: func(fs *flag.FlagSet) {
		getEncoding = fs.String("encoding", "", "decode content with this character encoding (default raw bytes)")
	}},
	"put": {args: "<path>", run: runPut, flags: func(fs *flag.FlagSet) {
		putContentType = fs.String("content-type", "", "content type to store")
		putFile = fs.String("file", "-", "input file path (- for stdin)")
	}},
	"delete": {args: "<path>", run: runDelete},
	"copy": {args: "<src> <dest>", run: runCopy, flags: copyFlags},
	"move": {args: "<src> <dest>", run: runMove, flags: copyFlags},
	"url":  {args: "<path>", run: runURL},
	"sign": {args: "<path>", run: runSign, flags: func(fs *flag.FlagSet) {
		signExpiry = fs.Duration("expiry", storage.DefaultSignedURLExpiry, "URL lifetime")
		signMethod = fs.String("method", "GET", "HTTP method the URL authorizes")
		signContentType = fs.String("content-type", "", "content type bound to the URL")
		signDisposition = fs.String("content-disposition", "", "content disposition bound to the URL")
	}},
	"stat": {args: "<path>", run: runStat},
}

func copyFlags(fs *flag.FlagSet) {
	copyDestBucket = fs.String("dest-bucket", "", "destination bucket (default the disk's bucket)")
	copyContentType = fs.String("content-type", "", "override the content type of the copy")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		printUsage()
		return 1
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "bleepdrive.yaml", "Config file path")
	diskName := fs.String("disk", "", "disk name (default: the configured default disk)")
	logLevel := fs.String("log-level", "warn", "log level")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	want := len(strings.Fields(cmd.args))
	if fs.NArg() != want {
		fmt.Fprintf(stderr, "Usage: bleepdrive-ctl %s [flags] %s\n", name, cmd.args)
		return 2
	}

	logging.Setup(*logLevel, "text", stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	mgr, err := drive.New(ctx, cfg.Drive)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer mgr.Close()

	disk, err := mgr.Disk(*diskName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := cmd.run(ctx, disk, fs.Args()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Fprintln(stderr, usage)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stderr, "  %-7s %s\n", name, commands[name].args)
	}
}

func runExists(ctx context.Context, disk storage.Storage, args []string) error {
	res, err := disk.Exists(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, res.Exists)
	return nil
}

func runGet(ctx context.Context, disk storage.Storage, args []string) error {
	if *getEncoding != "" {
		res, err := disk.Get(ctx, args[0], *getEncoding)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, res.Content)
		return err
	}
	rc, err := disk.GetStream(ctx, args[0])
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(stdout, rc)
	return err
}

func runPut(ctx context.Context, disk storage.Storage, args []string) error {
	in := stdin
	opts := &storage.PutOptions{ContentType: *putContentType}
	if *putFile != "-" {
		f, err := os.Open(*putFile)
		if err != nil {
			return err
		}
		defer f.Close()
		if st, err := f.Stat(); err == nil {
			opts.ContentLength = st.Size()
		}
		in = f
	}
	if _, err := disk.Put(ctx, args[0], in, opts); err != nil {
		return err
	}
	fmt.Fprintln(stdout, disk.GetURL(args[0]))
	return nil
}

func runDelete(ctx context.Context, disk storage.Storage, args []string) error {
	_, err := disk.Delete(ctx, args[0], nil)
	return err
}

func copyOptions() *storage.CopyOptions {
	return &storage.CopyOptions{DestBucket: *copyDestBucket, ContentType: *copyContentType}
}

func runCopy(ctx context.Context, disk storage.Storage, args []string) error {
	_, err := disk.Copy(ctx, args[0], args[1], copyOptions())
	return err
}

func runMove(ctx context.Context, disk storage.Storage, args []string) error {
	_, err := disk.Move(ctx, args[0], args[1], copyOptions())
	return err
}

func runURL(_ context.Context, disk storage.Storage, args []string) error {
	fmt.Fprintln(stdout, disk.GetURL(args[0]))
	return nil
}

func runSign(ctx context.Context, disk storage.Storage, args []string) error {
	res, err := disk.GetSignedURL(ctx, args[0], &storage.SignedURLOptions{
		Expiry:             *signExpiry,
		Method:             *signMethod,
		ContentType:        *signContentType,
		ContentDisposition: *signDisposition,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, res.SignedURL)
	return nil
}

type statOutput struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func runStat(ctx context.Context, disk storage.Storage, args []string) error {
	res, err := disk.GetStat(ctx, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	return enc.Encode(statOutput{Path: args[0], Size: res.Size, Modified: res.Modified})
}
