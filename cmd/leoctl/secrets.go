package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leoscope/leoscope/internal/rpc"
	"github.com/leoscope/leoscope/internal/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Operate on job config encryption keys",
	}
	cmd.AddCommand(newSecretsRotateKeysCmd())
	return cmd
}

// newSecretsRotateKeysCmd generates a fresh age key pair and re-encrypts
// the named jobs' config blobs under it, for use after a node's private
// key is believed compromised. It only produces the new key material and
// re-encrypted blobs: no update_job RPC exists on the coordinator, so an
// operator applies the result by rescheduling each job with its rotated
// config and rolling the new private key out to the affected nodes.
func newSecretsRotateKeysCmd() *cobra.Command {
	var jobIDs []string
	var privateKey, publicKey string

	cmd := &cobra.Command{
		Use:   "rotate-keys",
		Short: "Generate a new age key pair and re-encrypt job configs under it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(jobIDs) == 0 {
				return badInput("at least one --job-id is required")
			}
			if privateKey == "" {
				privateKey = os.Getenv("LEOSCOPE_AGE_PRIVATE_KEY")
			}
			if privateKey == "" {
				return badInput("--private-key or LEOSCOPE_AGE_PRIVATE_KEY is required to decrypt existing configs")
			}
			if publicKey == "" {
				publicKey = os.Getenv("LEOSCOPE_AGE_PUBLIC_KEY")
			}

			sopsSvc, err := secrets.NewSOPSService(&secrets.Config{
				AgePublicKey:  publicKey,
				AgePrivateKey: privateKey,
			}, nil)
			if err != nil {
				return badInput("constructing secrets service: %v", err)
			}

			client, conn, err := dial(coordinatorAddr, token)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			configs := make(map[string][]byte, len(jobIDs))
			for _, jobID := range jobIDs {
				resp, err := client.GetJobByID(ctx, &rpc.GetJobByIDRequest{JobID: jobID})
				if err != nil {
					return transportErr(err)
				}
				if err := checkStatus("get_job_by_id", resp.Status); err != nil {
					return err
				}
				if resp.Job.Config == "" {
					continue
				}
				configs[jobID] = []byte(resp.Job.Config)
			}

			result, err := sopsSvc.RotateKeys(ctx, configs)
			if err != nil {
				return badInput("rotating keys: %v", err)
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringArrayVar(&jobIDs, "job-id", nil, "job ID whose config should be re-encrypted (repeatable)")
	cmd.Flags().StringVar(&privateKey, "private-key", "", "current age private key (or LEOSCOPE_AGE_PRIVATE_KEY)")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "current age public key (or LEOSCOPE_AGE_PUBLIC_KEY)")
	return cmd
}
