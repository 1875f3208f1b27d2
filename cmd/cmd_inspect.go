// cmd_inspect.go - Inspect und Resolve Commands
// Hauptfunktionen: InspectHandler, ResolveHandler
package cmd

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/ortdiffusion/diffusion"
	"github.com/ollama/ortdiffusion/symbolic"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Show the subnetworks of a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}
	addLoadFlags(cmd)
	cmd.Flags().Bool("verbose", false, "Show the inputs and outputs of every subnetwork")
	return cmd
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve MODEL SUBNETWORK NAME=SHAPE...",
		Short: "Compute the output shapes of a subnetwork for given input shapes",
		Example: `  ortdiff resolve ./sd-onnx unet sample=2x4x64x64 timestep= encoder_hidden_states=2x77x768
  ortdiff resolve ./sd-onnx vae_decoder latent_sample=1,4,64,64`,
		Args: cobra.MinimumNArgs(2),
		RunE: ResolveHandler,
	}
	addLoadFlags(cmd)
	return cmd
}

// InspectHandler - Laedt eine Pipeline und zeigt ihre Subnetze
func InspectHandler(cmd *cobra.Command, args []string) error {
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

	verbose, _ := cmd.Flags().GetBool("verbose")
	showPipeline(cmd.OutOrStdout(), p, verbose)
	return nil
}

func showPipeline(w io.Writer, p *diffusion.Pipeline, verbose bool) {
	class := p.Class()
	renderTable(w, []string{"PIPELINE", ""}, [][]string{
		{"class", class.Name},
		{"family", class.Family},
		{"task", string(class.Task)},
		{"model", p.NameOrPath()},
		{"directory", p.ModelSaveDir()},
		{"device", attribute(p.Device())},
		{"provider", attribute(p.Provider())},
		{"io binding", attribute(p.UseIOBinding())},
	})
	fmt.Fprintln(w)

	var data [][]string
	var parts []*diffusion.Part
	for _, sub := range diffusion.Subfolders {
		part, ok := p.Part(sub)
		if !ok {
			continue
		}
		parts = append(parts, part)
		data = append(data, []string{
			sub,
			part.Provider(),
			part.Device().String(),
			part.DType().String(),
			fmt.Sprint(part.UseIOBinding()),
			strings.Join(part.InputNames(), ", "),
			strings.Join(part.OutputNames(), ", "),
		})
	}
	renderTable(w, []string{"SUBNETWORK", "PROVIDER", "DEVICE", "DTYPE", "IO BINDING", "INPUTS", "OUTPUTS"}, data)

	if !verbose {
		return
	}

	for _, part := range parts {
		fmt.Fprintln(w)
		showPart(w, part)
	}
}

func showPart(w io.Writer, part *diffusion.Part) {
	var data [][]string
	add := func(direction string, names []string, shapes symbolic.Compiled, dtype func(string) string) {
		for _, name := range names {
			shape, _ := shapes.Get(name)
			data = append(data, []string{name, direction, dtype(name), shape.String()})
		}
	}

	inputs, outputs := part.InputDTypes(), part.OutputDTypes()
	add("input", part.InputNames(), part.InputShapes(), func(name string) string { return inputs[name].String() })
	add("output", part.OutputNames(), part.OutputShapes(), func(name string) string { return outputs[name].String() })
	renderTable(w, []string{part.Name(), "", "DTYPE", "SHAPE"}, data)

	known := part.KnownSymbols()
	if len(known) > 0 {
		names := make([]string, 0, len(known))
		for name := range known {
			names = append(names, name)
		}
		slices.Sort(names)

		var symbols []string
		for _, name := range names {
			symbols = append(symbols, fmt.Sprintf("%s=%d", name, known[name]))
		}
		fmt.Fprintf(w, "known: %s\n", strings.Join(symbols, " "))
	}
}

// attribute - Formatiert ein Pipeline-Attribut oder den Grund, warum es fehlt
func attribute[T any](v T, err error) string {
	if err != nil {
		var attr *diffusion.AttributeError
		if errors.As(err, &attr) && len(attr.Values) > 0 {
			var values []string
			for name, value := range attr.Values {
				values = append(values, name+"="+value)
			}
			slices.Sort(values)
			return "mixed (" + strings.Join(values, ", ") + ")"
		}
		return "-"
	}
	return fmt.Sprint(v)
}

// ResolveHandler - Berechnet die Ausgabeformen eines Subnetzes
func ResolveHandler(cmd *cobra.Command, args []string) error {
	shapes, err := parseShapes(args[2:])
	if err != nil {
		return err
	}

	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts.Client = hubClient()

	p, err := diffusion.Load(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	defer p.Close()

	part, ok := p.Part(args[1])
	if !ok {
		return fmt.Errorf("pipeline %s has no subnetwork %q", p.NameOrPath(), args[1])
	}

	outputs, err := part.ResolveShapes(shapes)
	if err != nil {
		return err
	}

	var data [][]string
	for _, name := range part.OutputNames() {
		shape, ok := outputs[name]
		if !ok {
			continue
		}
		data = append(data, []string{name, formatShape(shape)})
	}
	renderTable(cmd.OutOrStdout(), []string{"OUTPUT", "SHAPE"}, data)
	return nil
}
