package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/leoscope/leoscope/internal/rpc"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Schedule and inspect experiment jobs",
	}
	cmd.AddCommand(newJobScheduleCmd(), newJobRescheduleCmd(), newJobGetCmd(), newJobDeleteCmd())
	return cmd
}

func parseRFC3339(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, badInput("--%s must be RFC3339 (e.g. 2026-08-06T15:00:00Z): %v", flag, err)
	}
	return t, nil
}

func newJobScheduleCmd() *cobra.Command {
	var nodeID, ownerID, kind, cronExpr, oneShotAt, validityStart, validityEnd string
	var lengthSecs int64
	var overhead bool
	var pairedServerNodeID, trigger, config, mode, deploy, execute, finish string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule a new job (cron or one-shot at/atq)",
		RunE: func(cmd *cobra.Command, args []string) error {
			oneShot, err := parseRFC3339("one-shot-at", oneShotAt)
			if err != nil {
				return err
			}
			vStart, err := parseRFC3339("validity-start", validityStart)
			if err != nil {
				return err
			}
			vEnd, err := parseRFC3339("validity-end", validityEnd)
			if err != nil {
				return err
			}

			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.ScheduleJob(ctx, &rpc.ScheduleJobRequest{Job: rpc.JobRecord{
				NodeID:             nodeID,
				OwnerID:            ownerID,
				Kind:               kind,
				CronExpr:           cronExpr,
				OneShotAt:          oneShot,
				ValidityStart:      vStart,
				ValidityEnd:        vEnd,
				LengthSecs:         lengthSecs,
				Overhead:           overhead,
				PairedServerNodeID: pairedServerNodeID,
				Trigger:            trigger,
				Config:             config,
				Mode:               mode,
				Deploy:             deploy,
				Execute:            execute,
				Finish:             finish,
			}})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("schedule_job", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	f := cmd.Flags()
	f.StringVar(&nodeID, "node-id", "", "node to run the job on (required)")
	f.StringVar(&ownerID, "owner-id", "", "owning user ID")
	f.StringVar(&kind, "kind", "cron", "job kind: cron or atq")
	f.StringVar(&cronExpr, "schedule", "", "cron expression, for kind=cron")
	f.StringVar(&oneShotAt, "one-shot-at", "", "RFC3339 instant, for kind=atq")
	f.StringVar(&validityStart, "validity-start", "", "RFC3339 validity window start (required)")
	f.StringVar(&validityEnd, "validity-end", "", "RFC3339 validity window end (required)")
	f.Int64Var(&lengthSecs, "length-secs", 0, "run duration in seconds (required)")
	f.BoolVar(&overhead, "overhead", false, "count scheduling overhead against the validity window")
	f.StringVar(&pairedServerNodeID, "paired-server-node-id", "", "server node ID for a client/server paired job")
	f.StringVar(&trigger, "trigger", "", "trigger expression gating execution")
	f.StringVar(&config, "config", "", "job config document (plaintext or sops-encrypted)")
	f.StringVar(&mode, "mode", "", "scheduling mode, e.g. scavenger")
	f.StringVar(&deploy, "deploy", "", "container image reference")
	f.StringVar(&execute, "execute", "", "container entrypoint/command (required)")
	f.StringVar(&finish, "finish", "", "post-run cleanup command")
	cmd.MarkFlagRequired("node-id")
	cmd.MarkFlagRequired("validity-start")
	cmd.MarkFlagRequired("validity-end")
	cmd.MarkFlagRequired("length-secs")
	cmd.MarkFlagRequired("execute")
	return cmd
}

func newJobRescheduleCmd() *cobra.Command {
	var jobID, after string
	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Move a job to its nearest free slot at or after --after",
		RunE: func(cmd *cobra.Command, args []string) error {
			afterTS, err := parseRFC3339("after", after)
			if err != nil {
				return err
			}
			if afterTS.IsZero() {
				afterTS = time.Now()
			}

			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.RescheduleJobNearest(ctx, &rpc.RescheduleJobNearestRequest{JobID: jobID, After: afterTS})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("reschedule_job_nearest", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&jobID, "id", "", "job ID (required)")
	cmd.Flags().StringVar(&after, "after", "", "RFC3339 instant to search from (default: now)")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newJobGetCmd() *cobra.Command {
	var jobID, nodeID, userID string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Look up a job by ID, node, or owning user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" && nodeID == "" && userID == "" {
				return badInput("one of --id, --node-id, or --user-id is required")
			}
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			switch {
			case jobID != "":
				resp, err := client.GetJobByID(ctx, &rpc.GetJobByIDRequest{JobID: jobID})
				if err != nil {
					return transportErr(err)
				}
				if err := checkStatus("get_job_by_id", resp.Status); err != nil {
					return err
				}
				return printJSON(resp)
			case nodeID != "":
				resp, err := client.GetJobsByNodeID(ctx, &rpc.GetJobsByNodeIDRequest{NodeID: nodeID})
				if err != nil {
					return transportErr(err)
				}
				if err := checkStatus("get_jobs_by_node_id", resp.Status); err != nil {
					return err
				}
				return printJSON(resp)
			default:
				resp, err := client.GetJobsByUserID(ctx, &rpc.GetJobsByUserIDRequest{UserID: userID})
				if err != nil {
					return transportErr(err)
				}
				if err := checkStatus("get_jobs_by_user_id", resp.Status); err != nil {
					return err
				}
				return printJSON(resp)
			}
		},
	}
	cmd.Flags().StringVar(&jobID, "id", "", "job ID")
	cmd.Flags().StringVar(&nodeID, "node-id", "", "node ID")
	cmd.Flags().StringVar(&userID, "user-id", "", "owning user ID")
	return cmd
}

func newJobDeleteCmd() *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := client.DeleteJobByID(ctx, &rpc.DeleteJobByIDRequest{JobID: jobID})
			if err != nil {
				return transportErr(err)
			}
			if err := checkStatus("delete_job_by_id", resp.Status); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&jobID, "id", "", "job ID (required)")
	cmd.MarkFlagRequired("id")
	return cmd
}
