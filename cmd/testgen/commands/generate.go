package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/prd-testgen/cmd/testgen/ui"
	"github.com/spherical/prd-testgen/internal/app"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/feishu"
	"github.com/spherical/prd-testgen/internal/pipeline"
	"github.com/spherical/prd-testgen/pkg/testgen"
)

var (
	genFile   string
	genURL    string
	genText   string
	genName   string
	genOutput string
	genSave   bool
)

// resultDocument is the JSON written by --output and stored by --save.
type resultDocument struct {
	Plan  *testgen.Plan      `json:"analysis,omitempty"`
	Cases []testgen.TestCase `json:"cases"`
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate test cases from a PRD",
	Long: `Generate plans test scenarios per module and then writes test cases for them.
Exactly one of --file, --url or --text selects the document.`,
	Example: `  testgen generate --url https://acme.feishu.cn/docx/DocABC
  testgen generate --file prd.docx --output cases.json
  testgen generate --text "$(cat prd.md)" --server http://localhost:8080 --save`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringVarP(&genFile, "file", "f", "", "PRD file (.pdf, .docx, .txt, .md)")
	generateCmd.Flags().StringVarP(&genURL, "url", "u", "", "Feishu document URL or token")
	generateCmd.Flags().StringVarP(&genText, "text", "t", "", "PRD text")
	generateCmd.Flags().StringVar(&genName, "name", "", "display name for --text input")
	generateCmd.Flags().StringVarP(&genOutput, "output", "o", "", "write the plan and cases as JSON to this path")
	generateCmd.Flags().BoolVar(&genSave, "save", false, "store the result and print its share key")
	generateCmd.MarkFlagsOneRequired("file", "url", "text")
	generateCmd.MarkFlagsMutuallyExclusive("file", "url", "text")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui.Section("Test Case Generation")

	var (
		events   <-chan testgen.Event
		cleanup  func()
		err      error
		renderer = ui.NewRenderer()
	)
	if serverURL != "" {
		ui.KeyValue("Server", serverURL)
		events, err = remoteGenerate(ctx, apiClient())
		cleanup = func() {}
	} else {
		ui.KeyValue("Model", cfg.Model.Endpoint)
		events, cleanup, err = localGenerate(ctx, renderer.ImageProgress())
	}
	if err != nil {
		return err
	}
	defer cleanup()
	ui.Newline()

	outcome := renderer.Consume(events)
	if outcome.Err != nil {
		if outcome.Err.Stage != "" {
			return fmt.Errorf("generation failed at %s stage", outcome.Err.Stage)
		}
		return fmt.Errorf("generation failed")
	}

	result := resultDocument{Plan: outcome.Plan, Cases: outcome.Cases}
	if result.Cases == nil {
		result.Cases = []testgen.TestCase{}
	}

	if genOutput != "" {
		if err := writeJSONFile(genOutput, result); err != nil {
			return err
		}
		ui.Success("Result written to %s", genOutput)
	}

	if genSave {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		key, err := saveResult(ctx, raw)
		if err != nil {
			return err
		}
		ui.Success("Saved with key %s", key)
	}

	return nil
}

func remoteGenerate(ctx context.Context, client *testgen.Client) (<-chan testgen.Event, error) {
	switch {
	case genFile != "":
		f, err := os.Open(genFile)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", genFile, err)
		}
		defer f.Close()
		return client.GenerateFromFile(ctx, filepath.Base(genFile), "", f)
	case genURL != "":
		return client.GenerateFromFeishu(ctx, genURL)
	default:
		return client.GenerateFromText(ctx, genText, genName)
	}
}

func localGenerate(ctx context.Context, progress feishu.ProgressFunc) (<-chan testgen.Event, func(), error) {
	sources, err := app.NewSources(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	service, err := app.NewPipeline(cfg, logger)
	if err != nil {
		sources.Close()
		return nil, nil, err
	}

	var src domain.DocumentSource
	switch {
	case genFile != "":
		src, err = documentSource(sources, genFile, progress)
		if err != nil {
			sources.Close()
			return nil, nil, err
		}
	case genURL != "":
		src = feishuSource(sources, genURL, progress)
	default:
		src = pipeline.TextSource{Name: genName, Content: genText}
	}

	cleanup := func() { _ = sources.Close() }
	return localEvents(ctx, service, src, logger), cleanup, nil
}
