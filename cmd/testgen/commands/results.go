package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical/prd-testgen/cmd/testgen/ui"
	"github.com/spherical/prd-testgen/internal/app"
)

var resultsOutput string

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Save and fetch shared results",
}

var resultsSaveCmd = &cobra.Command{
	Use:   "save <file.json>",
	Short: "Store a JSON document and print its key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		if !json.Valid(raw) {
			return fmt.Errorf("%s is not a JSON document", args[0])
		}

		key, err := saveResult(cmd.Context(), raw)
		if err != nil {
			return err
		}
		ui.Success("Saved with key %s", key)
		return nil
	},
}

var resultsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch a stored JSON document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := loadResult(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if resultsOutput != "" {
			if err := os.WriteFile(resultsOutput, payload, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", resultsOutput, err)
			}
			ui.Success("Result written to %s", resultsOutput)
			return nil
		}

		var pretty any
		if err := json.Unmarshal(payload, &pretty); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Fprintln(ui.Out, string(out))
		return nil
	},
}

func init() {
	resultsGetCmd.Flags().StringVarP(&resultsOutput, "output", "o", "", "write the document to this path")
	resultsCmd.AddCommand(resultsSaveCmd, resultsGetCmd)
	rootCmd.AddCommand(resultsCmd)
}

func saveResult(ctx context.Context, payload json.RawMessage) (string, error) {
	if serverURL != "" {
		return apiClient().SaveResult(ctx, payload)
	}

	store, err := app.OpenResultStore(ctx, cfg, logger)
	if err != nil {
		return "", err
	}
	defer store.Close()
	return store.Save(ctx, payload)
}

func loadResult(ctx context.Context, key string) (json.RawMessage, error) {
	if serverURL != "" {
		return apiClient().GetResult(ctx, key)
	}

	store, err := app.OpenResultStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	result, err := store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return result.Payload, nil
}
