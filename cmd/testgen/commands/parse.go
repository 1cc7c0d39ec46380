package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/prd-testgen/cmd/testgen/ui"
	"github.com/spherical/prd-testgen/internal/app"
	"github.com/spherical/prd-testgen/internal/domain"
)

var (
	parseJSON bool
	parseFull bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <feishu-url|token|file>",
	Short: "Dump the content nodes of a document",
	Long: `Parse normalizes a Feishu document or a local file into ordered content nodes
and prints them without calling the model. Useful for checking what the
generator will see.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print the document as JSON")
	parseCmd.Flags().BoolVar(&parseFull, "full", false, "keep full image data URIs in JSON output")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	sources, err := app.NewSources(cfg, logger)
	if err != nil {
		return err
	}
	defer sources.Close()

	spinner := ui.NewSpinner("Parsing " + args[0] + "...")
	progress := ui.NewImageProgress(spinner)

	src, err := documentSource(sources, args[0], progress.Update)
	if err != nil {
		return err
	}

	spinner.Start()
	doc, err := src.Load(ctx)
	spinner.Stop()
	if err != nil {
		return err
	}

	if parseJSON {
		if !parseFull {
			doc = elideImages(doc)
		}
		out, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		fmt.Fprintln(ui.Out, string(out))
		return nil
	}

	renderDocument(doc)
	return nil
}

// elideImages replaces data URIs with a size marker.
func elideImages(doc *domain.Document) *domain.Document {
	out := *doc
	out.Nodes = make([]domain.ContentNode, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if n.Kind == domain.NodeImage && n.InlineData != "" {
			n.InlineData = fmt.Sprintf("<%d bytes>", len(n.InlineData))
		}
		out.Nodes[i] = n
	}
	return &out
}

func renderDocument(doc *domain.Document) {
	ui.Section(doc.Source)

	rows := make([][]string, 0, len(doc.Nodes))
	images := 0
	for i, n := range doc.Nodes {
		switch n.Kind {
		case domain.NodeImage:
			images++
			rows = append(rows, []string{strconv.Itoa(i + 1), "image",
				fmt.Sprintf("[Reference Image %d] %s (%d bytes)", images, n.SourceToken, len(n.InlineData))})
		default:
			rows = append(rows, []string{strconv.Itoa(i + 1), string(n.Kind), ui.Truncate(n.Content, 80)})
		}
	}
	ui.Table([]string{"#", "Type", "Content"}, rows)

	ui.Newline()
	for _, w := range doc.Warnings {
		ui.Warning("%s", w)
	}
	ui.Success("%d nodes, %d images", len(doc.Nodes), images)
}
