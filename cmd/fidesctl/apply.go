package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/fides/pkg/bootstrap"
	"github.com/cuemby/fides/pkg/client"
	"github.com/cuemby/fides/pkg/container"
	"github.com/cuemby/fides/pkg/key"
)

var applyCmd = &cobra.Command{
	Use:   "apply <manifest.yaml>",
	Short: "Encode a YAML manifest as a container blob and submit it to a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().String("source", "", "source ID to submit the blob to (required)")
	applyCmd.Flags().String("format", "fides-container", "container format tag (not read: apply always encodes a fides-container blob)")
	_ = applyCmd.MarkFlagRequired("source")
}

func runApply(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	sourceID, _ := cmd.Flags().GetString("source")

	manifest, err := bootstrap.LoadFile(args[0])
	if err != nil {
		return err
	}

	deletions, err := parseDeletions(manifest.Deletions)
	if err != nil {
		return err
	}

	payload := container.EncodeDocumentPayload(container.DecodedDocument{
		Values:    byteValues(manifest.Values),
		Deletions: deletions,
		Version:   manifest.Version,
	})
	raw := container.EncodeContainer(container.Container{Payload: payload})

	c := client.New(server)
	status, err := c.InsertBlob(sourceID, raw)
	if err != nil {
		return fmt.Errorf("apply failed (%s): %w", status, err)
	}
	fmt.Printf("applied: %s\n", status)
	return nil
}

func byteValues(values map[string]string) map[string][]byte {
	out := make(map[string][]byte, len(values))
	for k, v := range values {
		out[k] = []byte(v)
	}
	return out
}

func parseDeletions(raw []string) ([]key.Key, error) {
	out := make([]key.Key, 0, len(raw))
	for _, d := range raw {
		k, err := key.New(d)
		if err != nil {
			return nil, fmt.Errorf("deletion %q: %w", d, err)
		}
		out = append(out, k)
	}
	return out, nil
}
