package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leoscope/leoscope/internal/models"
	"github.com/leoscope/leoscope/internal/rpc"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect runs and attach to a running job's container",
	}
	cmd.AddCommand(newRunGetCmd(), newRunScheduledCmd(), newRunExecCmd(), newRunLogsCmd())
	return cmd
}

func newRunGetCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "List runs, optionally filtered by job",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.GetRuns(ctx, &rpc.GetRunsRequest{JobID: jobID})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("get_runs", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "filter by job ID")
	return cmd
}

func newRunScheduledCmd() *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List runs a node has scheduled ahead",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.GetScheduledRuns(ctx, &rpc.GetScheduledRunsRequest{NodeID: nodeID})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("get_scheduled_runs", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node ID (required)")
	cmd.MarkFlagRequired("node-id")
	return cmd
}

// dialAgentWS opens a websocket to a node agent's admin HTTP surface,
// which leoctl reaches directly rather than through the coordinator: run
// exec and run logs -f are per-node debug operations spec.md's protocol
// leaves outside the coordinator's own RPC surface.
func dialAgentWS(nodeAddr, path string, query url.Values) (*websocket.Conn, error) {
	if nodeAddr == "" {
		return nil, badInput("--node-addr is required (the node agent's admin HTTP address, e.g. host:8081)")
	}
	u := url.URL{Scheme: "ws", Host: nodeAddr, Path: path, RawQuery: query.Encode()}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, transportErr(fmt.Errorf("dialing node agent %s: %w", nodeAddr, err))
	}
	return conn, nil
}

func newRunExecCmd() *cobra.Command {
	var nodeAddr string
	cmd := &cobra.Command{
		Use:   "exec RUN_ID",
		Short: "Attach an interactive shell to a run's container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			conn, err := dialAgentWS(nodeAddr, fmt.Sprintf("/runs/%s/exec", runID), nil)
			if err != nil {
				return err
			}
			defer conn.Close()
			return runExecSession(conn)
		},
	}
	cmd.Flags().StringVar(&nodeAddr, "node-addr", "", "node agent admin HTTP address, e.g. 10.0.0.5:8081 (required)")
	cmd.MarkFlagRequired("node-addr")
	return cmd
}

// runExecSession puts the local terminal into raw mode and pumps stdin to
// the socket as binary frames, and socket frames to stdout, until either
// side closes.
func runExecSession(conn *websocket.Conn) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw terminal mode: %w", err)
		}
		defer term.Restore(fd, oldState)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				done <- nil
				return
			}
			if mt == websocket.BinaryMessage {
				os.Stdout.Write(msg)
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					done <- werr
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					done <- err
				}
				return
			}
		}
	}()

	select {
	case err := <-done:
		return err
	case <-sigCh:
		return nil
	}
}

func newRunLogsCmd() *cobra.Command {
	var nodeAddr, stream string
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs RUN_ID",
		Short: "Print a run's captured output, optionally following it live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			if !follow {
				return badInput("only -f/--follow live tailing is supported; historical logs are retrieved from the run's artifact bundle")
			}
			q := url.Values{}
			if stream != "" {
				q.Set("stream", stream)
			}
			conn, err := dialAgentWS(nodeAddr, fmt.Sprintf("/runs/%s/logs", runID), q)
			if err != nil {
				return err
			}
			defer conn.Close()

			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return transportErr(err)
				}
				var entry models.LogEntry
				if err := json.Unmarshal(msg, &entry); err != nil {
					continue
				}
				fmt.Printf("[%s] %s\n", entry.Stream, entry.Line)
			}
		},
	}
	cmd.Flags().StringVar(&nodeAddr, "node-addr", "", "node agent admin HTTP address, e.g. 10.0.0.5:8081 (required)")
	cmd.Flags().StringVar(&stream, "stream", "", "filter to stdout or stderr (default: both)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "tail output live")
	cmd.MarkFlagRequired("node-addr")
	return cmd
}
