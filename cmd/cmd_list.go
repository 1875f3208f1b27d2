// cmd_list.go - Families und Cache Commands
// Hauptfunktionen: FamiliesHandler, CacheListHandler, CacheRemoveHandler
package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/ortdiffusion/diffusion"
	"github.com/ollama/ortdiffusion/format"
	"github.com/ollama/ortdiffusion/huggingface"
)

func newFamiliesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "families [TASK]",
		Aliases: []string{"classes"},
		Short:   "List the supported pipeline classes",
		Args:    cobra.MaximumNArgs(1),
		RunE:    FamiliesHandler,
	}
}

func newCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the model cache",
	}

	lsCmd := &cobra.Command{
		Use:     "ls [PREFIX]",
		Aliases: []string{"list"},
		Short:   "List cached models",
		Args:    cobra.MaximumNArgs(1),
		RunE:    CacheListHandler,
	}

	rmCmd := &cobra.Command{
		Use:   "rm [MODEL...]",
		Short: "Remove models from the cache",
		RunE:  CacheRemoveHandler,
	}
	rmCmd.Flags().Bool("all", false, "Remove every cached model")

	cacheCmd.AddCommand(lsCmd, rmCmd)
	return cacheCmd
}

// FamiliesHandler - Listet alle Pipeline-Klassen, optional gefiltert nach Task
func FamiliesHandler(cmd *cobra.Command, args []string) error {
	var task diffusion.Task
	if len(args) > 0 {
		task = diffusion.Task(args[0])
		if !isTask(task) {
			return fmt.Errorf("unknown task %q, expected one of %s", args[0], joinTasks())
		}
	}

	var data [][]string
	for _, c := range diffusion.Classes {
		if task != "" && c.Task != task {
			continue
		}
		data = append(data, []string{c.Name, c.DiffusersName, c.Family, string(c.Task), c.MainInput})
	}

	renderTable(cmd.OutOrStdout(), []string{"CLASS", "DIFFUSERS", "FAMILY", "TASK", "INPUT"}, data)
	return nil
}

func isTask(task diffusion.Task) bool {
	return slices.Contains(diffusion.Tasks, task)
}

func joinTasks() string {
	names := make([]string, len(diffusion.Tasks))
	for i, t := range diffusion.Tasks {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// CacheListHandler - Listet die Modelle im Cache
func CacheListHandler(cmd *cobra.Command, args []string) error {
	info, err := huggingface.GetCacheInfo()
	if err != nil {
		return err
	}

	var data [][]string
	for _, m := range info.Models {
		if len(args) > 0 && !strings.HasPrefix(strings.ToLower(m.ModelID), strings.ToLower(args[0])) {
			continue
		}
		data = append(data, []string{m.ModelID, strings.Join(m.Revisions, ", "), fmt.Sprint(m.FileCount), format.HumanBytes(m.TotalSize)})
	}

	renderTable(cmd.OutOrStdout(), []string{"MODEL", "REVISIONS", "FILES", "SIZE"}, data)
	return nil
}

// CacheRemoveHandler - Entfernt Modelle aus dem Cache
func CacheRemoveHandler(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	switch {
	case all && len(args) > 0:
		return fmt.Errorf("--all cannot be combined with model names")
	case all:
		if err := huggingface.ClearCache(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", huggingface.GetCacheDir())
		return nil
	case len(args) == 0:
		return fmt.Errorf("no model given, use --all to clear the cache")
	}

	for _, id := range args {
		if err := huggingface.ClearModelCache(id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted '%s'\n", id)
	}
	return nil
}
