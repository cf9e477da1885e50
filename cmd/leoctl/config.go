package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leoscope/leoscope/internal/rpc"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or replace the coordinator's global config document",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigUpdateCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the current global config document",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.GetConfig(ctx, &rpc.GetConfigRequest{})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("get_config", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	return cmd
}

func newConfigUpdateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Replace the global config document",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc []byte
			var err error
			if file == "-" || file == "" {
				doc, err = io.ReadAll(os.Stdin)
			} else {
				doc, err = os.ReadFile(file)
			}
			if err != nil {
				return badInput("reading config document: %v", err)
			}

			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.UpdateGlobalConfig(ctx, &rpc.UpdateGlobalConfigRequest{Doc: string(doc)})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("update_global_config", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "path to the new config document, or - for stdin")
	return cmd
}
