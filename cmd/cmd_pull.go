// cmd_pull.go - Pull und Save Commands
// Hauptfunktionen: PullHandler, SaveHandler
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ollama/ortdiffusion/diffusion"
)

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull MODEL",
		Short: "Download the files of a pipeline into the cache",
		Args:  cobra.ExactArgs(1),
		RunE:  PullHandler,
	}
	addHubFlags(cmd)
	return cmd
}

func newSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save MODEL DIRECTORY",
		Short: "Load a pipeline and write it to a directory",
		Args:  cobra.ExactArgs(2),
		RunE:  SaveHandler,
	}
	addLoadFlags(cmd)
	return cmd
}

// PullHandler - Laedt alle Dateien einer Pipeline herunter
func PullHandler(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts.Client = hubClient()

	stop := withProgress(&opts, args[0])
	dir, err := diffusion.Resolve(cmd.Context(), args[0], opts)
	stop()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), dir)
	return nil
}

// SaveHandler - Speichert eine geladene Pipeline in ein Verzeichnis
func SaveHandler(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts.Client = hubClient()

	stop := withProgress(&opts, args[0])
	p, err := diffusion.Load(cmd.Context(), args[0], opts)
	stop()
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Save(args[1]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "saved %s to %s\n", p.Class().Name, args[1])
	return nil
}
