package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halcyonml/halcyon/compiler"
	"github.com/halcyonml/halcyon/hal"
	"github.com/halcyonml/halcyon/mem"
	"github.com/halcyonml/halcyon/status"
)

const addSource = `module @arith {
  func @add(%a: tensor<4xf32>, %b: tensor<4xf32>) -> tensor<4xf32> = vm.add
  func @mul(%a: tensor<4xf32>, %b: tensor<4xf32>) -> tensor<4xf32> = vm.mul
}
`

// compileSource runs the bundled compiler over dialect text and returns
// the loadable bytecode container.
func compileSource(t *testing.T, source string) []byte {
	t.Helper()
	comp, err := compiler.New()
	if err != nil {
		t.Fatalf("compiler init: %v", err)
	}
	defer comp.Shutdown()

	sess, err := comp.NewSession()
	if err != nil {
		t.Fatalf("compiler session: %v", err)
	}
	defer sess.Close()

	src, err := sess.SourceWrapBuffer("test.hir", []byte(source))
	if err != nil {
		t.Fatalf("wrap source: %v", err)
	}
	defer src.Close()

	inv, err := sess.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()

	var diags []compiler.Diagnostic
	inv.EnableCallbackDiagnostics(func(d compiler.Diagnostic) {
		diags = append(diags, d)
	})
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v (diags: %v)", err, diags)
	}
	if err := inv.Pipeline(compiler.PipelineStd); err != nil {
		t.Fatalf("pipeline: %v (diags: %v)", err, diags)
	}
	out, err := compiler.OutputToMemory()
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	defer out.Close()
	if err := inv.OutputVMBytecode(out); err != nil {
		t.Fatalf("emit bytecode: %v", err)
	}
	data, err := out.Map()
	if err != nil {
		t.Fatalf("map output: %v", err)
	}
	return append([]byte(nil), data...)
}

func newTestSession(t *testing.T, module []byte) *Session {
	t.Helper()
	reg := hal.DefaultRegistry()
	t.Cleanup(reg.Free)

	inst, err := NewInstance(InstanceOptions{Registry: reg, UseAllAvailableDrivers: true})
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	t.Cleanup(inst.Release)

	dev, err := inst.TryCreateDefaultDevice("local-sync")
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	t.Cleanup(dev.Release)

	sess, err := NewSessionWithDevice(inst, dev)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	t.Cleanup(sess.Release)

	if module != nil {
		if err := sess.AppendModuleFromBytes(context.Background(), module); err != nil {
			t.Fatalf("append module: %v", err)
		}
	}
	return sess
}

func TestAddTensorsEndToEnd(t *testing.T) {
	module := compileSource(t, addSource)
	sess := newTestSession(t, module)

	lhs, err := hal.NewBufferView(sess, []uint64{4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("lhs: %v", err)
	}
	defer lhs.Release()
	rhs, err := hal.NewBufferView(sess, []uint64{4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("rhs: %v", err)
	}
	defer rhs.Release()

	call, err := NewCallByName(sess, "arith.add")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer call.Release()

	if err := call.PushInputBufferView(lhs); err != nil {
		t.Fatalf("push lhs: %v", err)
	}
	if err := call.PushInputBufferView(rhs); err != nil {
		t.Fatalf("push rhs: %v", err)
	}
	if err := call.Invoke(context.Background()); err != nil {
		t.Fatalf("invoke: %v", err)
	}

	got, err := PopOutputBufferView[float32](call)
	if err != nil {
		t.Fatalf("pop output: %v", err)
	}
	want := []float32{2, 4, 6, 8}
	if len(got) != len(want) {
		t.Fatalf("result length = %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("result[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestCallReuseAfterReset(t *testing.T) {
	module := compileSource(t, addSource)
	sess := newTestSession(t, module)

	call, err := NewCallByName(sess, "arith.mul")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer call.Release()

	run := func(vals []float32, want []float32) {
		t.Helper()
		lhs, err := hal.NewBufferView(sess, []uint64{4}, vals)
		if err != nil {
			t.Fatalf("lhs: %v", err)
		}
		defer lhs.Release()
		rhs, err := hal.NewBufferView(sess, []uint64{4}, vals)
		if err != nil {
			t.Fatalf("rhs: %v", err)
		}
		defer rhs.Release()
		if err := call.PushInputBufferView(lhs); err != nil {
			t.Fatalf("push: %v", err)
		}
		if err := call.PushInputBufferView(rhs); err != nil {
			t.Fatalf("push: %v", err)
		}
		if err := call.Invoke(context.Background()); err != nil {
			t.Fatalf("invoke: %v", err)
		}
		got, err := PopOutputBufferView[float32](call)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("result[%d] = %g, want %g", i, got[i], want[i])
			}
		}
		if err := call.Reset(); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	run([]float32{1, 2, 3, 4}, []float32{1, 4, 9, 16})
	run([]float32{2, 2, 2, 2}, []float32{4, 4, 4, 4})
}

func TestCrossInstanceBufferViewRejected(t *testing.T) {
	module := compileSource(t, addSource)
	sessA := newTestSession(t, module)
	sessB := newTestSession(t, module)

	foreign, err := hal.NewBufferView(sessB, []uint64{4}, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("foreign buffer: %v", err)
	}
	defer foreign.Release()

	call, err := NewCallByName(sessA, "arith.add")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer call.Release()

	err = call.PushInputBufferView(foreign)
	if err == nil {
		t.Fatal("cross-instance buffer view accepted")
	}
	if !strings.Contains(err.Error(), "different instance") {
		t.Fatalf("error = %v, want instance mismatch", err)
	}
}

func TestLookupMissingFunction(t *testing.T) {
	module := compileSource(t, addSource)
	sess := newTestSession(t, module)

	_, err := sess.LookupFunction("arith.pow")
	if err == nil {
		t.Fatal("lookup of missing function succeeded")
	}
	se, ok := err.(*status.Error)
	if !ok || se.Code != status.NotFound {
		t.Fatalf("error = %v, want NOT_FOUND status", err)
	}

	if _, err := NewCallByName(sess, "nosuchmodule.add"); err == nil {
		t.Fatal("call against missing module succeeded")
	}
	if _, err := sess.LookupFunction("bare-name"); err == nil {
		t.Fatal("malformed function name accepted")
	}
}

// minimal wasm module exporting add(i32, i32) -> i32
var wasmAdd = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func TestWasmScalarModule(t *testing.T) {
	sess := newTestSession(t, nil)
	if err := sess.AppendModuleFromBytes(context.Background(), wasmAdd); err != nil {
		t.Fatalf("append wasm module: %v", err)
	}

	fn, err := sess.LookupFunction("module.add")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cc, err := fn.CConv(); err != nil || cc != "ii_i" {
		t.Fatalf("cconv = %q, %v", cc, err)
	}

	call, err := NewCall(sess, fn)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	defer call.Release()

	if err := PushInputValue(call, int32(40)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := PushInputValue(call, int32(2)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := call.Invoke(context.Background()); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	// Popping under the wrong kind fails and leaves the output queued.
	if v, err := PopOutputValue[float64](call); err == nil {
		t.Fatalf("f64 pop of i32 output succeeded, returned %g", v)
	}
	got, err := PopOutputValue[int32](call)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got != 42 {
		t.Fatalf("add(40, 2) = %d", got)
	}
}

func TestAppendModuleFromFileStagesInHostMemory(t *testing.T) {
	moduleBytes := compileSource(t, addSource)
	path := filepath.Join(t.TempDir(), "arith.hvmb")
	if err := os.WriteFile(path, moduleBytes, 0o644); err != nil {
		t.Fatalf("write module: %v", err)
	}

	alloc := mem.NewHostAllocator(1 << 20)
	reg := hal.DefaultRegistry()
	defer reg.Free()
	inst, err := NewInstance(InstanceOptions{
		Registry:               reg,
		UseAllAvailableDrivers: true,
		Allocator:              alloc,
	})
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	defer inst.Release()

	dev, err := inst.TryCreateDefaultDevice("local-sync")
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	defer dev.Release()

	sess, err := NewSessionWithDevice(inst, dev)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	if err := sess.AppendModuleFromFile(context.Background(), path); err != nil {
		t.Fatalf("append from file: %v", err)
	}
	if alloc.LiveBlocks() == 0 {
		t.Fatal("module container not staged in host memory")
	}
	if _, err := sess.LookupFunction("arith.add"); err != nil {
		t.Fatalf("lookup in staged module: %v", err)
	}

	// Releasing the session destroys the module, which frees the block.
	sess.Release()
	if n := alloc.LiveBlocks(); n != 0 {
		t.Fatalf("%d staged blocks leaked after session release", n)
	}
}

func TestMissingDriver(t *testing.T) {
	inst, err := NewInstance(InstanceOptions{})
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	defer inst.Release()

	_, err = inst.TryCreateDefaultDevice("local-sync")
	if err == nil {
		t.Fatal("device created without registered drivers")
	}
	se, ok := err.(*status.Error)
	if !ok || se.Code != status.NotFound {
		t.Fatalf("error = %v, want NOT_FOUND status", err)
	}
}
