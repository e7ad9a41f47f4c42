package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/isoflash/isoflash/pkg/pipeline"
)

// promptConfirmer asks on out and reads a yes/no answer from in.
// Anything other than y or yes declines.
func promptConfirmer(in io.Reader, out io.Writer) pipeline.Confirmer {
	reader := bufio.NewReader(in)
	return pipeline.ConfirmFunc(func(ctx context.Context, c pipeline.Confirmation) (bool, error) {
		fmt.Fprintf(out, "\nSource:  %s (%s)\n", c.Image.Path, humanize.IBytes(uint64(c.Image.Size)))
		if c.Device != nil {
			fmt.Fprintf(out, "Target:  %s, %s (%s)\n", c.Device.Device, c.Device.Description, humanize.IBytes(uint64(c.Device.Size)))
		}
		fmt.Fprintf(out, "All data on the target will be erased and it will be relabelled %s.\n", c.Label)
		fmt.Fprint(out, "Continue? [y/N]: ")

		answers := make(chan string, 1)
		go func() {
			line, _ := reader.ReadString('\n')
			answers <- line
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return false, ctx.Err()
		case line := <-answers:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				return true, nil
			default:
				return false, nil
			}
		}
	})
}

func autoConfirm() pipeline.Confirmer {
	return pipeline.ConfirmFunc(func(context.Context, pipeline.Confirmation) (bool, error) {
		return true, nil
	})
}
