package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/leoscope/leoscope/internal/rpc"
)

func newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage LEOScope ground/edge nodes",
	}
	cmd.AddCommand(
		newNodeRegisterCmd(),
		newNodeModifyCmd(),
		newNodeDeleteCmd(),
		newNodeGetCmd(),
		newNodeScavengerCmd(),
	)
	return cmd
}

func newNodeRegisterCmd() *cobra.Command {
	var displayName, location, provider string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new node and mint its static token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.RegisterNode(ctx, &rpc.RegisterNodeRequest{
				Node: rpc.NodeRecord{DisplayName: displayName, Lat: lat, Lon: lon, Location: location, Provider: provider},
			})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("register_node", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "node display name (required)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude (required)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude (required)")
	cmd.Flags().StringVar(&location, "location", "", "free-form location label")
	cmd.Flags().StringVar(&provider, "provider", "", "hosting provider label")
	cmd.MarkFlagRequired("display-name")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lon")
	return cmd
}

func newNodeModifyCmd() *cobra.Command {
	var nodeID, displayName, location, provider string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "modify",
		Short: "Update a node's record",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.UpdateNode(ctx, &rpc.UpdateNodeRequest{
				NodeID: nodeID,
				Node:   rpc.NodeRecord{DisplayName: displayName, Lat: lat, Lon: lon, Location: location, Provider: provider},
			})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("update_node", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", "", "node ID (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "new display name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "new latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "new longitude")
	cmd.Flags().StringVar(&location, "location", "", "new location label")
	cmd.Flags().StringVar(&provider, "provider", "", "new provider label")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newNodeDeleteCmd() *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.DeleteNode(ctx, &rpc.DeleteNodeRequest{NodeID: nodeID})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("delete_node", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", "", "node ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newNodeGetCmd() *cobra.Command {
	var nodeID, location string
	var active bool
	var activeThresSec int64
	cmd := &cobra.Command{
		Use:   "get",
		Short: "List nodes, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.GetNodes(ctx, &rpc.GetNodesRequest{
				NodeID:         nodeID,
				Location:       location,
				Active:         active,
				ActiveThresSec: activeThresSec,
			})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("get_nodes", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", "", "filter by node ID")
	cmd.Flags().StringVar(&location, "location", "", "filter by location label")
	cmd.Flags().BoolVar(&active, "active", false, "only nodes active within --active-threshold")
	cmd.Flags().Int64Var(&activeThresSec, "active-threshold", 300, "seconds since last heartbeat to count as active")
	return cmd
}

func newNodeScavengerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scavenger",
		Short: "Read or flip a node's scavenger-mode flag",
	}
	cmd.AddCommand(newNodeScavengerGetCmd(), newNodeScavengerSetCmd())
	return cmd
}

func newNodeScavengerGetCmd() *cobra.Command {
	var nodeID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Report whether scavenger mode is active on a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.GetScavenger(ctx, &rpc.GetScavengerRequest{NodeID: nodeID})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("get_scavenger", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", "", "node ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newNodeScavengerSetCmd() *cobra.Command {
	var nodeID string
	var active bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Enable or disable scavenger mode on a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.SetScavenger(ctx, &rpc.SetScavengerRequest{NodeID: nodeID, Active: active})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("set_scavenger", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&nodeID, "id", "", "node ID (required)")
	cmd.Flags().BoolVar(&active, "active", true, "scavenger mode state to set")
	cmd.MarkFlagRequired("id")
	return cmd
}
