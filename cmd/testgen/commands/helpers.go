package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spherical/prd-testgen/internal/app"
	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/feishu"
	"github.com/spherical/prd-testgen/internal/fileparse"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/stream"
	"github.com/spherical/prd-testgen/pkg/testgen"
)

// newLogger keeps CLI logs on stderr and quiet unless --verbose.
func newLogger(cfg *config.Config) *observability.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

// isLocalFile reports whether arg names a readable regular file.
func isLocalFile(arg string) bool {
	info, err := os.Stat(arg)
	return err == nil && info.Mode().IsRegular()
}

// readUpload loads a file as an upload. The parser resolves the content type
// from the extension.
func readUpload(path string) (fileparse.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileparse.Upload{}, fmt.Errorf("read %s: %w", path, err)
	}
	return fileparse.Upload{Filename: filepath.Base(path), Data: data}, nil
}

// documentSource picks the file parser for local paths and the Feishu
// adapter for everything else. progress, when set, receives Feishu image
// download progress.
func documentSource(sources *app.Sources, arg string, progress feishu.ProgressFunc) (domain.DocumentSource, error) {
	if isLocalFile(arg) {
		upload, err := readUpload(arg)
		if err != nil {
			return nil, err
		}
		if err := sources.Files.Validate(upload); err != nil {
			return nil, err
		}
		return sources.Files.NewSource(upload), nil
	}
	return feishuSource(sources, arg, progress), nil
}

func feishuSource(sources *app.Sources, locator string, progress feishu.ProgressFunc) domain.DocumentSource {
	adapter := sources.Feishu
	if progress != nil {
		adapter = adapter.WithProgress(progress)
	}
	return adapter.NewSource(locator)
}

// runner executes the pipeline for one source.
type runner interface {
	Run(ctx context.Context, src domain.DocumentSource, em *stream.Emitter) error
}

// localEvents runs the pipeline in-process and relays its events in the
// client's wire form, so local and remote runs render identically.
func localEvents(ctx context.Context, r runner, src domain.DocumentSource, log *observability.Logger) <-chan testgen.Event {
	sink := stream.NewChanSink(ctx, 16)
	go func() {
		defer sink.Close()
		if err := r.Run(ctx, src, stream.NewEmitter(sink, log)); err != nil {
			log.Debug().Err(err).Msg("local run ended with error")
		}
	}()

	out := make(chan testgen.Event, 16)
	go func() {
		defer close(out)
		for ev := range sink.Events() {
			converted, err := toEvent(ev)
			if err != nil {
				converted = testgen.Event{Type: testgen.EventError, Message: err.Error(), Timestamp: ev.Timestamp}
			}
			select {
			case out <- converted:
			case <-ctx.Done():
				// keep draining so the producer can finish
			}
		}
	}()
	return out
}

func toEvent(ev domain.StreamEvent) (testgen.Event, error) {
	converted := testgen.Event{
		Type:      string(ev.Type),
		Message:   ev.Message,
		Stage:     string(ev.Stage),
		Timestamp: ev.Timestamp,
	}
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return testgen.Event{}, fmt.Errorf("encode %s event: %w", ev.Type, err)
		}
		converted.Data = raw
	}
	return converted, nil
}

// writeJSONFile writes v as indented JSON.
func writeJSONFile(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// apiClient connects to --server with the configured stream limits.
func apiClient() *testgen.Client {
	return testgen.NewClient(serverURL, testgen.WithMaxEventBytes(cfg.Client.MaxEventBytes))
}
