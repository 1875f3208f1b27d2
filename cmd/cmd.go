// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"slices"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/ortdiffusion/envconfig"
	"github.com/ollama/ortdiffusion/logutil"

	_ "github.com/ollama/ortdiffusion/ml/backend"
)

var version = "0.0.0"

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-26s %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "ortdiff",
		Short:         "Run diffusion pipelines on ONNX Runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
			slog.Debug("environment", "env", envconfig.Values())
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintf(cmd.OutOrStdout(), "ortdiff version is %s\n", version)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	inspectCmd := newInspectCmd()
	resolveCmd := newResolveCmd()
	pullCmd := newPullCmd()
	saveCmd := newSaveCmd()
	familiesCmd := newFamiliesCmd()
	cacheCmd := newCacheCmd()

	envVars := envconfig.AsMap()
	hubEnvs := []envconfig.EnvVar{
		envVars["HF_ENDPOINT"],
		envVars["HF_TOKEN"],
		envVars["HF_HUB_CACHE"],
		envVars["HF_HOME"],
		envVars["HF_HUB_OFFLINE"],
		envVars["ORTDIFF_DOWNLOAD_PARALLEL"],
	}
	sessionEnvs := []envconfig.EnvVar{
		envVars["ORTDIFF_DEBUG"],
		envVars["ORTDIFF_PROVIDER"],
		envVars["ORTDIFF_PROVIDER_OPTIONS"],
		envVars["ORTDIFF_IO_BINDING"],
		envVars["ORTDIFF_ORT_LIBRARY"],
		envVars["ORTDIFF_NUM_THREADS"],
	}

	for _, cmd := range []*cobra.Command{inspectCmd, resolveCmd, pullCmd, saveCmd, cacheCmd} {
		switch cmd {
		case pullCmd:
			appendEnvDocs(cmd, hubEnvs)
		case cacheCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["HF_HUB_CACHE"], envVars["HF_HOME"]})
		default:
			appendEnvDocs(cmd, slices.Concat(sessionEnvs, hubEnvs))
		}
	}

	rootCmd.AddCommand(
		inspectCmd,
		resolveCmd,
		pullCmd,
		saveCmd,
		familiesCmd,
		cacheCmd,
	)

	return rootCmd
}
