package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/spendguard/pkg/client"
	"github.com/pario-ai/spendguard/pkg/models"
	"github.com/pario-ai/spendguard/pkg/payment"
)

func newPayCmd(gf *globalFlags) *cobra.Command {
	var (
		provider string
		action   string
		task     string
		payload  string
		runID    string
		keyHex   string
	)

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Run one request through a server, paying the quote if one is returned",
		RunE: func(cmd *cobra.Command, args []string) error {
			if gf.serverURL == "" {
				return fmt.Errorf("--server is required")
			}
			if payload != "" && !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}

			c := client.New(gf.serverURL)
			if keyHex != "" {
				seed, err := hex.DecodeString(strings.TrimSpace(keyHex))
				if err != nil || len(seed) != ed25519.SeedSize {
					return fmt.Errorf("--ed25519-key must be a %d byte hex seed", ed25519.SeedSize)
				}
				c.Signer = payment.Ed25519Signer{Key: ed25519.NewKeyFromSeed(seed)}
			}

			req := models.Request{
				Provider: provider,
				Action:   action,
				Task:     task,
				RunID:    runID,
			}
			if payload != "" {
				req.Payload = json.RawMessage(payload)
			}

			res, err := c.ExecutePaid(context.Background(), req)
			if res != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(res)
			}
			if err != nil {
				return err
			}
			if res.Decision != models.DecisionApproved {
				return fmt.Errorf("request %s", strings.ToLower(string(res.Decision)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "email", "provider name")
	cmd.Flags().StringVar(&action, "action", "send", "provider action")
	cmd.Flags().StringVar(&task, "task", "", "task the spend is attributed to")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload for the provider")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id recorded in the audit log")
	cmd.Flags().StringVar(&keyHex, "ed25519-key", os.Getenv("SPENDGUARD_ED25519_KEY"), "hex ed25519 seed; default is the mock signer")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}
