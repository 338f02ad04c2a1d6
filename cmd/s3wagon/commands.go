package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/dc-tec/s3-wagon/internal/config"
	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
	"github.com/dc-tec/s3-wagon/internal/metrics"
	"github.com/dc-tec/s3-wagon/internal/transport"
)

// stdio is the path meaning stdin or stdout.
const stdio = "-"

// command state shared by the transport commands.
type env struct {
	t       *transport.Transport
	file    *config.File
	metrics *metrics.Metrics
	log     logr.Logger
	args    []string
	close   func()
}

// setup parses flags and positional arguments, loads the configuration and
// opens a session. tune may derive publish tuning from the loaded file.
func setup(ctx context.Context, o *options, args []string, stderr io.Writer, min, max int, usage string, tune func(*config.File) tuning) (*env, error) {
	if err := o.parse(args); err != nil {
		return nil, err
	}
	pos, err := positional(o.fs, min, max, usage)
	if err != nil {
		return nil, err
	}
	f, err := o.load()
	if err != nil {
		return nil, err
	}

	var tn tuning
	if tune != nil {
		tn = tune(f)
	}
	log := o.logger(stderr)
	m := metrics.NewMetrics(f.Bucket)
	s, t, err := open(ctx, log, f, m, tn)
	if err != nil {
		return nil, err
	}
	return &env{
		t:       t,
		file:    f,
		metrics: m,
		log:     log,
		args:    pos,
		close:   func() { _ = s.Close() },
	}, nil
}

// runGet downloads a resource to a file, or to stdout for "-".
func runGet(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e, err := setup(ctx, newOptions("get", stderr), args, stderr, 2, 2, "get <resource> <file|->", nil)
	if err != nil {
		return err
	}
	defer e.close()
	t, resource, dest := e.t, e.args[0], e.args[1]

	if dest == stdio {
		body, _, err := t.Fetch(ctx, resource)
		if err != nil {
			return err
		}
		_, copyErr := io.Copy(stdout, body)
		closeErr := body.Close()
		if copyErr != nil {
			return fmt.Errorf("failed to write %s to stdout: %w", resource, copyErr)
		}
		return closeErr
	}

	meta, err := t.FetchToFile(ctx, resource, dest)
	if err != nil {
		return err
	}
	size := int64(0)
	if meta.ContentLength != nil {
		size = *meta.ContentLength
	}
	_, _ = fmt.Fprintf(stdout, "Downloaded %s to %s (%d bytes)\n", meta.Key, dest, size)
	return nil
}

// runPut uploads a file, or stdin for "-", to a resource.
func runPut(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e, err := setup(ctx, newOptions("put", stderr), args, stderr, 2, 2, "put <file|-> <resource>", nil)
	if err != nil {
		return err
	}
	defer e.close()
	t, src, resource := e.t, e.args[0], e.args[1]

	if src == stdio {
		err = storeStdin(ctx, t, resource)
	} else {
		err = t.StoreFile(ctx, src, resource)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Uploaded %s to s3://%s/%s\n", src, t.Bucket(), t.Key(resource))
	return nil
}

// stdin is replaced in tests.
var stdin io.Reader = os.Stdin

// storeStdin uploads stdin; its length is unknown until it is read.
func storeStdin(ctx context.Context, t *transport.Transport, resource string) error {
	return t.Store(ctx, resource, io.NopCloser(stdin), -1, time.Now())
}

// runList prints the immediate children of a directory, one per line.
func runList(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e, err := setup(ctx, newOptions("ls", stderr), args, stderr, 0, 1, "ls [dir]", nil)
	if err != nil {
		return err
	}
	defer e.close()
	dir := ""
	if len(e.args) == 1 {
		dir = e.args[0]
	}

	children, err := e.t.ListChildren(ctx, dir)
	if err != nil {
		return err
	}
	for _, c := range children {
		_, _ = fmt.Fprintln(stdout, c)
	}
	return nil
}

// runExists prints true or false. A missing resource also exits non-zero.
func runExists(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e, err := setup(ctx, newOptions("exists", stderr), args, stderr, 1, 1, "exists <resource>", nil)
	if err != nil {
		return err
	}
	defer e.close()
	resource := e.args[0]

	ok, err := e.t.Exists(ctx, resource)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, ok)
	if !ok {
		return fmt.Errorf("%w: %s", wagonerrors.ErrResourceNotFound, resource)
	}
	return nil
}

// runConfig prints the effective configuration with secrets masked.
func runConfig(_ context.Context, args []string, stdout, stderr io.Writer) error {
	o := newOptions("config", stderr)
	if err := o.parse(args); err != nil {
		return err
	}
	f, err := o.load()
	if err != nil {
		return err
	}
	_, err = stdout.Write(config.Encode(f))
	return err
}
