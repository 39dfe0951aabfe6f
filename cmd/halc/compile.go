package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/halcyonml/halcyon/compiler"
)

// emitFlag restricts --emit to the supported output forms.
type emitFlag string

var _ pflag.Value = (*emitFlag)(nil)

func (e *emitFlag) String() string { return string(*e) }
func (e *emitFlag) Type() string   { return "form" }

func (e *emitFlag) Set(v string) error {
	switch strings.ToLower(v) {
	case "vmfb", "ir":
		*e = emitFlag(strings.ToLower(v))
		return nil
	default:
		return fmt.Errorf("must be vmfb or ir, got %q", v)
	}
}

func newCompileCmd() *cobra.Command {
	var (
		output     string
		emit       = emitFlag("vmfb")
		toPhase    string
		splitInput bool
		flags      []string
	)

	cmd := &cobra.Command{
		Use:   "compile <source>",
		Short: "Compile a dialect source into a loadable module container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := compiler.New()
			if err != nil {
				return err
			}
			defer comp.Shutdown()

			sess, err := comp.NewSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			if len(flags) > 0 {
				if err := sess.SetFlags(flags...); err != nil {
					return err
				}
			}

			src, err := sess.SourceFromFile(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			sources := []*compiler.Source{src}
			if splitInput {
				parts, err := src.Split()
				if err != nil {
					return err
				}
				sources = parts
				for _, p := range parts {
					defer p.Close()
				}
			}

			for i, s := range sources {
				path := output
				if len(sources) > 1 {
					path = fmt.Sprintf("%s.%d", output, i)
				}
				if err := compileOne(cmd, sess, s, string(emit), toPhase, path); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "module.hvmb", "output path")
	cmd.Flags().Var(&emit, "emit", "output form: vmfb or ir")
	cmd.Flags().StringVar(&toPhase, "compile-to", "", "stop compilation after the named phase")
	cmd.Flags().BoolVar(&splitInput, "split-input", false, "compile each document of a stacked source separately")
	cmd.Flags().StringArrayVar(&flags, "flag", nil, "session flag, e.g. --flag=--opt-level=3 (repeatable)")
	return cmd
}

func compileOne(cmd *cobra.Command, sess *compiler.Session, src *compiler.Source, emit, toPhase, output string) error {
	inv, err := sess.NewInvocation()
	if err != nil {
		return err
	}
	defer inv.Close()

	inv.EnableCallbackDiagnostics(func(d compiler.Diagnostic) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", d.Severity, d.Message)
	})
	if toPhase != "" {
		if err := inv.SetCompileToPhase(toPhase); err != nil {
			return err
		}
	}
	if err := inv.ParseSource(src); err != nil {
		return err
	}
	if err := inv.Pipeline(compiler.PipelineStd); err != nil {
		return err
	}

	out, err := compiler.OutputToFile(output)
	if err != nil {
		return err
	}
	defer out.Close()

	switch strings.ToLower(emit) {
	case "vmfb":
		err = inv.OutputVMBytecode(out)
	case "ir":
		err = inv.OutputIR(out)
	default:
		return fmt.Errorf("unknown emit form %q", emit)
	}
	if err != nil {
		return err
	}
	if err := out.Keep(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print compiler version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			comp, err := compiler.New()
			if err != nil {
				return err
			}
			defer comp.Shutdown()
			major, minor := comp.APIVersion()
			fmt.Fprintf(cmd.OutOrStdout(), "%s (api %d.%d)\n", comp.Revision(), major, minor)
			fmt.Fprintf(cmd.OutOrStdout(), "target backends: %s\n", strings.Join(comp.TargetBackends(), ", "))
			return nil
		},
	}
}
