// Command csvedit loads a CSV document from a directory, applies cell edits
// and exports the result, without starting the HTTP server.
//
//	csvedit -dir ./documents -in people.csv -set 1:2=Oslo -set 3:0=Ada -out people-edited.csv
//
// With -out - the edited CSV is written to stdout instead of the directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/JonMunkholm/csvedit/internal/core"
	"github.com/JonMunkholm/csvedit/internal/logging"
	"github.com/JonMunkholm/csvedit/internal/storage/fsstore"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cellEdit is one -set flag value.
type cellEdit struct {
	Row, Col int
	Value    string
}

// editList collects repeated -set flags.
type editList []cellEdit

func (l *editList) String() string {
	parts := make([]string, len(*l))
	for i, e := range *l {
		parts[i] = fmt.Sprintf("%d:%d=%s", e.Row, e.Col, e.Value)
	}
	return strings.Join(parts, ",")
}

func (l *editList) Set(s string) error {
	e, err := parseEdit(s)
	if err != nil {
		return err
	}
	*l = append(*l, e)
	return nil
}

// parseEdit parses "row:col=value". The value may contain '=' and be empty.
func parseEdit(s string) (cellEdit, error) {
	pos, value, ok := strings.Cut(s, "=")
	if !ok {
		return cellEdit{}, fmt.Errorf("edit %q: want row:col=value", s)
	}
	rowStr, colStr, ok := strings.Cut(pos, ":")
	if !ok {
		return cellEdit{}, fmt.Errorf("edit %q: want row:col=value", s)
	}
	row, err := strconv.Atoi(strings.TrimSpace(rowStr))
	if err != nil || row < 0 {
		return cellEdit{}, fmt.Errorf("edit %q: invalid row", s)
	}
	col, err := strconv.Atoi(strings.TrimSpace(colStr))
	if err != nil || col < 0 {
		return cellEdit{}, fmt.Errorf("edit %q: invalid column", s)
	}
	return cellEdit{Row: row, Col: col, Value: value}, nil
}

// streamWriter exports to an io.Writer instead of a store.
type streamWriter struct {
	w io.Writer
}

func (s streamWriter) Write(ctx context.Context, text, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := io.WriteString(s.w, text); err != nil {
		return "", err
	}
	return "-", nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("csvedit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		flagDir       string
		flagIn        string
		flagOut       string
		flagDelimiter string
		flagCRLF      bool
		flagMaxSize   int64
		flagLogLevel  string
		flagLogFormat string
		edits         editList
	)
	fs.StringVar(&flagDir, "dir", ".", "document directory")
	fs.StringVar(&flagIn, "in", "", "document to load, relative to -dir (required)")
	fs.StringVar(&flagOut, "out", core.DefaultExportName, `export name under -dir, or "-" for stdout`)
	fs.StringVar(&flagDelimiter, "delimiter", ",", `field delimiter, or "tab"`)
	fs.BoolVar(&flagCRLF, "crlf", false, "terminate exported records with CRLF")
	fs.Int64Var(&flagMaxSize, "max-size", 10<<20, "largest document to read in bytes (0: no limit)")
	fs.StringVar(&flagLogLevel, "log-level", "warn", "log level: debug, info, warn, error")
	fs.StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	fs.Var(&edits, "set", "cell edit row:col=value (repeatable, zero-based)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if strings.TrimSpace(flagIn) == "" {
		fmt.Fprintln(stderr, "csvedit: -in is required")
		fs.Usage()
		return exitUsage
	}
	comma, err := parseDelimiter(flagDelimiter)
	if err != nil {
		fmt.Fprintf(stderr, "csvedit: %v\n", err)
		return exitUsage
	}

	logger := logging.New(stderr, flagLogLevel, flagLogFormat)

	store, err := fsstore.New(fsstore.Options{
		Root:        flagDir,
		MaxFileSize: flagMaxSize,
		Atomic:      true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "csvedit: %v\n", err)
		return exitError
	}

	var writer core.FileWriter = store
	if flagOut == "-" {
		writer = streamWriter{w: stdout}
	}

	ctrl := core.NewController(store, writer, core.ControllerOptions{
		Codec:  core.Codec{Comma: comma, CRLF: flagCRLF},
		Logger: logger,
	})

	if err := ctrl.Load(ctx, flagIn); err != nil {
		return fail(stderr, err)
	}
	for _, e := range edits {
		if err := ctrl.EditCell(ctx, e.Row, e.Col, e.Value); err != nil {
			return fail(stderr, err)
		}
	}

	name := flagOut
	if name == "-" {
		name = core.DefaultExportName
	}
	result, err := ctrl.Export(ctx, name)
	if err != nil {
		return fail(stderr, err)
	}
	if flagOut != "-" {
		fmt.Fprintf(stderr, "exported %d bytes to %s\n", result.Bytes, result.Handle)
	}
	return exitOK
}

// fail reports err with its user-facing message and returns exitError.
func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "csvedit: %s\n", core.FormatUserError(err))
	fmt.Fprintf(stderr, "  detail: %v\n", err)
	var rejected *core.LoadRejectedError
	if errors.As(err, &rejected) {
		for _, pe := range rejected.Errors {
			fmt.Fprintf(stderr, "  %s\n", pe.Error())
		}
	}
	return exitError
}

func parseDelimiter(s string) (rune, error) {
	if strings.EqualFold(s, "tab") {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
		return 0, fmt.Errorf("invalid delimiter %q", s)
	}
	return r, nil
}
