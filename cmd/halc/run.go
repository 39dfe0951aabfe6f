package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/halcyonml/halcyon/hal"
	"github.com/halcyonml/halcyon/runtime"
)

func newRunCmd() *cobra.Command {
	var (
		function string
		driver   string
		inputs   []string
	)

	cmd := &cobra.Command{
		Use:   "run <module.hvmb>",
		Short: "Invoke a function from a compiled module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := hal.DefaultRegistry()
			defer reg.Free()

			inst, err := runtime.NewInstance(runtime.InstanceOptions{
				Registry:               reg,
				UseAllAvailableDrivers: true,
			})
			if err != nil {
				return err
			}
			defer inst.Release()

			dev, err := inst.TryCreateDefaultDevice(driver)
			if err != nil {
				return err
			}
			defer dev.Release()

			sess, err := runtime.NewSessionWithDevice(inst, dev)
			if err != nil {
				return err
			}
			defer sess.Release()

			if err := sess.AppendModuleFromFile(cmd.Context(), args[0]); err != nil {
				return err
			}

			call, err := runtime.NewCallByName(sess, function)
			if err != nil {
				return err
			}
			defer call.Release()

			for _, spec := range inputs {
				bv, err := parseInput(sess, spec)
				if err != nil {
					return err
				}
				err = call.PushInputBufferView(bv)
				bv.Release()
				if err != nil {
					return err
				}
			}

			if err := call.Invoke(cmd.Context()); err != nil {
				return err
			}

			out, err := call.PopOutputView()
			if err != nil {
				return err
			}
			defer out.Release()
			text, err := out.Format(0)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVarP(&function, "function", "f", "", "function to invoke as module.name")
	cmd.Flags().StringVar(&driver, "driver", "local-sync", "device driver")
	cmd.Flags().StringArrayVar(&inputs, "input", nil, "input tensor as SHAPExTYPE=v1,v2,... e.g. 4xf32=1,2,3,4 (repeatable)")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

// parseInput builds a buffer view from "4xf32=1,2,3,4" style input
// specs. Dimensions may stack: "2x2xf32=1,2,3,4".
func parseInput(sess *runtime.Session, spec string) (*hal.BufferView, error) {
	typePart, dataPart, ok := strings.Cut(spec, "=")
	if !ok {
		return nil, fmt.Errorf("input %q is not of the form SHAPExTYPE=values", spec)
	}
	dims := strings.Split(typePart, "x")
	if len(dims) < 2 {
		return nil, fmt.Errorf("input type %q needs at least one dimension", typePart)
	}
	elem := dims[len(dims)-1]
	var shape []uint64
	for _, d := range dims[:len(dims)-1] {
		n, err := strconv.ParseUint(d, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q", d)
		}
		shape = append(shape, n)
	}

	fields := strings.Split(dataPart, ",")
	switch elem {
	case "f32":
		vals := make([]float32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
			if err != nil {
				return nil, fmt.Errorf("invalid f32 value %q", f)
			}
			vals[i] = float32(v)
		}
		return hal.NewBufferView(sess, shape, vals)
	case "i32":
		vals := make([]int32, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseInt(strings.TrimSpace(f), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid i32 value %q", f)
			}
			vals[i] = int32(v)
		}
		return hal.NewBufferView(sess, shape, vals)
	default:
		return nil, fmt.Errorf("unsupported element type %q", elem)
	}
}
