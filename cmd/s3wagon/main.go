/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// so the credentials Secret can be read from any cluster.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	ctrl "sigs.k8s.io/controller-runtime"

	wagonerrors "github.com/dc-tec/s3-wagon/internal/errors"
)

const (
	// Exit codes
	exitSuccess       = 0
	exitConfigError   = 1
	exitAuthError     = 2
	exitNotFound      = 3
	exitTransferError = 4
)

const validCommands = "get, put, ls, exists, publish, config"

// errUsage marks command line mistakes.
var errUsage = errors.New("usage error")

type command func(ctx context.Context, args []string, stdout, stderr io.Writer) error

var commands = map[string]command{
	"get":     runGet,
	"put":     runPut,
	"ls":      runList,
	"exists":  runExists,
	"publish": runPublish,
	"config":  runConfig,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing command (valid commands: %s)", errUsage, validCommands)
	}

	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q (valid commands: %s)", errUsage, args[0], validCommands)
	}
	return cmd(ctx, args[1:], stdout, stderr)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, wagonerrors.ErrAuthenticationFailed):
		return exitAuthError
	case errors.Is(err, wagonerrors.ErrResourceNotFound):
		return exitNotFound
	case errors.Is(err, wagonerrors.ErrTransferFailed):
		return exitTransferError
	default:
		return exitConfigError
	}
}

func main() {
	ctx := ctrl.SetupSignalHandler()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "s3wagon error: %v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}
