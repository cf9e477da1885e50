package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/leoscope/leoscope/internal/rpc"
)

// exitCode mirrors the informative CLI table in spec.md section 6: 0 on
// success, 1 on a domain error the coordinator itself returned, 2 on a
// transport failure (dial, timeout, connection reset), 3 on bad input
// caught before a call was even made.
type exitCode int

const (
	exitOK        exitCode = 0
	exitDomain    exitCode = 1
	exitTransport exitCode = 2
	exitBadInput  exitCode = 3
)

// cliError carries the exit code a failure should produce, alongside the
// message cobra prints to stderr.
type cliError struct {
	code exitCode
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }

func badInput(format string, args ...any) error {
	return &cliError{code: exitBadInput, err: fmt.Errorf(format, args...)}
}

func transportErr(err error) error {
	return &cliError{code: exitTransport, err: err}
}

func domainErr(op string, s rpc.Status) error {
	return &cliError{code: exitDomain, err: fmt.Errorf("%s: %s: %s", op, s.Code, s.Message)}
}

// exitCodeFor unwraps a cliError, defaulting to a domain error for
// anything leoctl didn't explicitly classify.
func exitCodeFor(err error) exitCode {
	if err == nil {
		return exitOK
	}
	if ce, ok := err.(*cliError); ok {
		return ce.code
	}
	return exitDomain
}

// bearerCreds attaches leoctl's signed token to every RPC, the CLI-side
// half of the coordinator's authInterceptor bearer scheme (see
// internal/agent's staticTokenCreds for the node-side equivalent).
type bearerCreds struct{ token string }

func (c bearerCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + c.token}, nil
}

func (c bearerCreds) RequireTransportSecurity() bool { return false }

// dial connects to the coordinator named by the --coordinator flag,
// attaching --token as a bearer credential. The caller must Close the
// returned connection.
func dial(coordinatorAddr, token string) (rpc.CoordinatorClient, *grpc.ClientConn, error) {
	if coordinatorAddr == "" {
		return nil, nil, badInput("--coordinator (or LEOSCOPE_COORDINATOR_ADDR) is required")
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: token}))
	}

	conn, err := grpc.NewClient(coordinatorAddr, opts...)
	if err != nil {
		return nil, nil, transportErr(fmt.Errorf("dialing coordinator %s: %w", coordinatorAddr, err))
	}
	return rpc.NewCoordinatorClient(conn), conn, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// checkStatus turns a non-OK response status into a domain error the
// caller can return directly.
func checkStatus(op string, s rpc.Status) error {
	if s.OK() {
		return nil
	}
	return domainErr(op, s)
}
