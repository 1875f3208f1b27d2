// cmd_utils.go - Gemeinsame Flags, Tabellen und Parser der Commands
// Hauptfunktionen: addLoadFlags, loadOptions, renderTable, parseShapes
package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/ortdiffusion/diffusion"
	"github.com/ollama/ortdiffusion/huggingface"
	"github.com/ollama/ortdiffusion/ml"
	"github.com/ollama/ortdiffusion/progress"
)

// addHubFlags - Flags fuer den Zugriff auf den Model Hub
func addHubFlags(cmd *cobra.Command) {
	cmd.Flags().String("revision", "", "Branch, tag or commit to download (default main)")
	cmd.Flags().Bool("offline", false, "Only use files already in the cache")
	cmd.Flags().Bool("force-download", false, "Download files even if they are cached")
}

// addLoadFlags - Flags fuer das Laden einer Pipeline
func addLoadFlags(cmd *cobra.Command) {
	addHubFlags(cmd)
	cmd.Flags().String("provider", "", "Execution provider (default $ORTDIFF_PROVIDER)")
	cmd.Flags().String("device", "", "Place all sessions on a device (e.g. cpu, cuda:1)")
	cmd.Flags().String("io-binding", "", "Force IO binding on or off (true/false)")
	cmd.Flags().String("class", "", "Pipeline class instead of the one in model_index.json")
	cmd.Flags().Int("threads", 0, "Intra-op threads")
}

// loadOptions - Baut LoadOptions aus den Flags
func loadOptions(cmd *cobra.Command) (diffusion.LoadOptions, error) {
	var opts diffusion.LoadOptions

	flags := cmd.Flags()
	opts.Revision, _ = flags.GetString("revision")
	opts.LocalFilesOnly, _ = flags.GetBool("offline")
	opts.ForceDownload, _ = flags.GetBool("force-download")

	if flags.Lookup("provider") == nil {
		return opts, nil
	}

	provider, _ := flags.GetString("provider")
	if s, _ := flags.GetString("device"); s != "" {
		device, err := ml.ParseDevice(s)
		if err != nil {
			return opts, err
		}
		name, options := ml.ProviderForDevice(device)
		if provider != "" && provider != name {
			return opts, fmt.Errorf("--provider %s cannot place sessions on %s", provider, device)
		}
		opts.Session.Providers = []string{name}
		opts.Session.ProviderOptions = []map[string]string{options}
	} else if provider != "" {
		opts.Session.Providers = []string{provider}
		opts.Session.ProviderOptions = []map[string]string{{}}
	}

	if s, _ := flags.GetString("io-binding"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return opts, fmt.Errorf("invalid --io-binding %q", s)
		}
		opts.UseIOBinding = &v
	}

	if s, _ := flags.GetString("class"); s != "" {
		class, err := diffusion.LookupClass(s)
		if err != nil {
			return opts, err
		}
		opts.Class = class
	}

	opts.Session.NumThreads, _ = flags.GetInt("threads")
	return opts, nil
}

// withProgress - Zeigt einen Fortschrittsbalken, wenn stderr ein Terminal ist
func withProgress(opts *diffusion.LoadOptions, modelID string) (stop func()) {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}

	p := progress.NewProgress(os.Stderr)
	bar := progress.NewBar("pulling "+modelID, 0, 0)
	p.Add(bar)
	opts.Progress = func(completed, total int64) {
		bar.Set(completed, total)
	}
	return func() { p.Stop() }
}

// renderTable - Gibt eine Tabelle im Stil von "ortdiff families" aus
func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// parseShapes - Parst Argumente der Form name=2x4x64x64
// Ein leerer Wert steht fuer einen Skalar.
func parseShapes(args []string) (map[string][]int64, error) {
	shapes := make(map[string][]int64, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid shape %q, expected name=2x4x64x64", arg)
		}
		if _, exists := shapes[name]; exists {
			return nil, fmt.Errorf("shape for %s given twice", name)
		}

		shape := []int64{}
		if value != "" {
			for _, dim := range strings.FieldsFunc(value, func(r rune) bool { return r == 'x' || r == ',' }) {
				n, err := strconv.ParseInt(strings.TrimSpace(dim), 10, 64)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid dimension %q in %s", dim, arg)
				}
				shape = append(shape, n)
			}
		}
		shapes[name] = shape
	}
	return shapes, nil
}

// formatShape - Formatiert eine Form als 2x4x64x64
func formatShape(shape []int64) string {
	if len(shape) == 0 {
		return "scalar"
	}
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.FormatInt(d, 10)
	}
	return strings.Join(dims, "x")
}

// hubClient - Client mit den Einstellungen aus der Umgebung
func hubClient() *huggingface.Client {
	return huggingface.NewClient(huggingface.WithUserAgent("ortdiff/" + version))
}
