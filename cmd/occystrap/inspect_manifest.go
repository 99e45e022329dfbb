package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	digest "github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/shakenfist/occystrap/types/element"
)

var inspectManifestCmd = &cobra.Command{
	Use:   "inspect-manifest SOURCE",
	Short: "Resolve SOURCE and print its config and layer list as formatted JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectManifest,
}

// manifestReport is the read-only summary inspect-manifest prints: the
// image config document plus the ordered layer list every source
// exposes uniformly, regardless of whether the underlying transport
// carries a registry manifest, a daemon export, or a tarball entry.
type manifestReport struct {
	Config json.RawMessage      `json:"config"`
	Layers []manifestReportLayer `json:"layers"`
}

type manifestReportLayer struct {
	Digest string `json:"digest"`
	Size   int64  `json:"size"`
}

// manifestCollector is a terminal Consumer that captures the Config
// bytes and Layer descriptors Run() emits, without writing anything to
// disk — inspect-manifest never touches a Sink.
type manifestCollector struct {
	report manifestReport
}

func (c *manifestCollector) Accept(e element.Element) error {
	switch e.Type {
	case element.Config:
		data, err := io.ReadAll(e.Handle)
		if err != nil {
			return fmt.Errorf("inspect-manifest: read config: %w", err)
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return fmt.Errorf("inspect-manifest: invalid config JSON: %w", err)
		}
		c.report.Config = json.RawMessage(compact.Bytes())
	case element.Layer:
		c.report.Layers = append(c.report.Layers, manifestReportLayer{
			Digest: e.Digest.String(),
			Size:   e.Size,
		})
		if _, err := io.Copy(io.Discard, e.Handle); err != nil {
			return fmt.Errorf("inspect-manifest: read layer %s: %w", e.Digest, err)
		}
	}
	return nil
}

func (c *manifestCollector) Want(digest.Digest) bool { return true }
func (c *manifestCollector) Finalize() error         { return nil }

func runInspectManifest(cmd *cobra.Command, args []string) error {
	src, err := buildSource(args[0])
	if err != nil {
		return err
	}

	c := &manifestCollector{}
	if err := src.Run(c); err != nil {
		return err
	}

	out, err := json.MarshalIndent(c.report, "", "  ")
	if err != nil {
		return fmt.Errorf("inspect-manifest: marshal report: %w", err)
	}
	_, err = fmt.Fprintln(stdout, string(out))
	return err
}
