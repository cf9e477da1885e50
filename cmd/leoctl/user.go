package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/leoscope/leoscope/internal/rpc"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage LEOScope users",
	}
	cmd.AddCommand(newUserRegisterCmd(), newUserModifyCmd(), newUserDeleteCmd())
	return cmd
}

func newUserRegisterCmd() *cobra.Command {
	var name, role, team string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new user and mint their token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.RegisterUser(ctx, &rpc.RegisterUserRequest{
				User: rpc.UserRecord{Name: name, Role: role, Team: team},
			})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("register_user", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "user display name (required)")
	cmd.Flags().StringVar(&role, "role", "", "role: ADMIN, USER_PRIV, USER, NODE_PRIV, or NODE (required)")
	cmd.Flags().StringVar(&team, "team", "", "team name")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("role")
	return cmd
}

func newUserModifyCmd() *cobra.Command {
	var userID, name, role, team string
	cmd := &cobra.Command{
		Use:   "modify",
		Short: "Modify an existing user's record",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.ModifyUser(ctx, &rpc.ModifyUserRequest{
				UserID: userID,
				User:   rpc.UserRecord{Name: name, Role: role, Team: team},
			})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("modify_user", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "user ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "new display name")
	cmd.Flags().StringVar(&role, "role", "", "new role")
	cmd.Flags().StringVar(&team, "team", "", "new team")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newUserDeleteCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.DeleteUser(ctx, &rpc.DeleteUserRequest{UserID: userID})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("delete_user", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&userID, "id", "", "user ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
