package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/isoflash/isoflash/internal/config"
	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/isoflash/isoflash/pkg/storage"
	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote <s3://bucket/prefix>",
	Short: "List images available in an S3 bucket",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE:  runRemote,
}

func init() {
	rootCmd.AddCommand(remoteCmd)
}

func runRemote(cmd *cobra.Command, args []string) error {
	bucket, prefix, err := parseRemotePrefix(args[0])
	if err != nil {
		return usageError(cmd, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	client, err := storage.NewClient(cmd.Context(), bucket, storage.Options{
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	objects, err := client.ListObjects(cmd.Context(), prefix)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	out := cmd.OutOrStdout()
	if len(objects) == 0 {
		fmt.Fprintln(out, "No objects found")
		return nil
	}
	for _, obj := range objects {
		fmt.Fprintf(out, "%10s  %s%s/%s\n", humanize.IBytes(uint64(obj.Size)), storage.Scheme, client.Bucket(), obj.Key)
	}
	return nil
}

// parseRemotePrefix accepts s3://bucket and s3://bucket/prefix.
func parseRemotePrefix(ref string) (bucket, prefix string, err error) {
	if !storage.IsURL(ref) {
		return "", "", fmt.Errorf("not an s3 url: %q", ref)
	}
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(ref, storage.Scheme), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("s3 url %q has no bucket", ref)
	}
	return bucket, prefix, nil
}
