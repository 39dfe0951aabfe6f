package compiler

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halcyonml/halcyon/errors"
)

const validSource = `module @demo {
  func @add(%a: tensor<4xf32>, %b: tensor<4xf32>) -> tensor<4xf32> = vm.add
}
`

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("compiler init: %v", err)
	}
	t.Cleanup(c.Shutdown)
	return c
}

func TestDoubleInitializeRejected(t *testing.T) {
	c := newCompiler(t)

	_, err := New()
	if err == nil {
		t.Fatal("second initialization succeeded")
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindAlreadyInitialized {
		t.Fatalf("error = %v, want already_initialized", err)
	}

	// the first compiler stays fully usable after the rejected init
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session on first compiler: %v", err)
	}
	src, err := s.SourceWrapBuffer("demo.hir", []byte(validSource))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse on first compiler: %v", err)
	}
	inv.Close()
	src.Close()
	s.Close()

	// shutdown then re-init works
	c.Shutdown()
	c2, err := New()
	if err != nil {
		t.Fatalf("re-initialization failed: %v", err)
	}
	c2.Shutdown()
}

func TestAPIVersionAndBackends(t *testing.T) {
	c := newCompiler(t)

	major, minor := c.APIVersion()
	if major < 1 || minor < 0 {
		t.Fatalf("api version = %d.%d", major, minor)
	}
	if c.Revision() == "" {
		t.Fatal("empty revision")
	}
	backends := c.TargetBackends()
	if len(backends) == 0 {
		t.Fatal("no target backends")
	}
	found := false
	for _, b := range backends {
		if b == "llvm-cpu" {
			found = true
		}
	}
	if !found {
		t.Fatalf("llvm-cpu missing from %v", backends)
	}
}

func TestSessionFlags(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	if got := s.Flags(true); len(got) != 0 {
		t.Fatalf("fresh session has non-default flags: %v", got)
	}
	if err := s.SetFlags("--opt-level=3", "--strip-debug"); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	got := s.Flags(true)
	want := []string{"--opt-level=3", "--strip-debug=true"}
	if len(got) != len(want) {
		t.Fatalf("flags = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("flags = %v, want %v", got, want)
		}
	}

	if err := s.SetFlags("--no-such-flag=1"); err == nil {
		t.Fatal("unknown flag accepted")
	}
	if err := s.SetFlags("opt-level=1"); err == nil {
		t.Fatal("flag without -- accepted")
	}
	if err := s.SetFlags("--opt-level=9"); err == nil {
		t.Fatal("out-of-range opt-level accepted")
	}
	if err := s.SetFlags("--target-backends=vmvx"); err != nil {
		t.Fatalf("valid backend rejected: %v", err)
	}
}

func TestSourceSplit(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	stacked := validSource + "// -----\n" + strings.ReplaceAll(validSource, "@demo", "@second")
	src, err := s.SourceWrapBuffer("stack.hir", []byte(stacked))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	parts, err := src.Split()
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("split into %d parts", len(parts))
	}
	for _, p := range parts {
		defer p.Close()
	}

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSource(parts[0]); err != nil {
		t.Fatalf("parse first part: %v", err)
	}
	if err := inv.ParseSource(parts[1]); err != nil {
		t.Fatalf("parse second part: %v", err)
	}
}

func TestSourceFromMissingFile(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	if _, err := s.SourceFromFile("/no/such/file.hir"); err == nil {
		t.Fatal("open of missing file succeeded")
	}
}

func TestSourceFromNulString(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	src, err := s.SourceFromNulString("demo.hir", validSource)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v", err)
	}

	_, err = s.SourceFromNulString("bad.hir", "module\x00@demo")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidString {
		t.Fatalf("error = %v, want invalid_string", err)
	}
}

func TestParseSourceFromFile(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	path := filepath.Join(t.TempDir(), "demo.hir")
	if err := os.WriteFile(path, []byte(validSource), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSourceFromFile(path); err != nil {
		t.Fatalf("parse from file: %v", err)
	}

	err = inv.ParseSourceFromFile(filepath.Join(t.TempDir(), "missing.hir"))
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindFileNotFound {
		t.Fatalf("error = %v, want file_not_found", err)
	}
}

func TestParseFailureReportsDiagnostics(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	src, err := s.SourceWrapBuffer("bad.hir", []byte("not a module"))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()

	var diags []Diagnostic
	inv.EnableCallbackDiagnostics(func(d Diagnostic) {
		diags = append(diags, d)
	})
	err = inv.ParseSource(src)
	if err == nil {
		t.Fatal("invalid source parsed")
	}
	if len(diags) == 0 {
		t.Fatal("no diagnostics delivered")
	}
	if diags[0].Severity != SeverityError {
		t.Fatalf("severity = %s", diags[0].Severity)
	}

	// The error carries the same log, one diagnostic per line.
	var carried Diagnostics
	if !stderrors.As(err, &carried) {
		t.Fatalf("error %v does not carry diagnostics", err)
	}
	if len(carried) != len(diags) {
		t.Fatalf("carried %d diagnostics, callback saw %d", len(carried), len(diags))
	}
	if lines := strings.Count(carried.String(), "\n"); lines != len(carried) {
		t.Fatalf("String() rendered %d lines for %d diagnostics", lines, len(carried))
	}
	if got := inv.Diagnostics(); len(got) != len(diags) {
		t.Fatalf("invocation log holds %d diagnostics, want %d", len(got), len(diags))
	}

	// A following successful op clears the log.
	good, err := s.SourceWrapBuffer("good.hir", []byte(validSource))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer good.Close()
	if err := inv.ParseSource(good); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := inv.Diagnostics(); len(got) != 0 {
		t.Fatalf("log not cleared, holds %d diagnostics", len(got))
	}
}

func TestVerifierCatchesShapeMismatch(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	bad := `module @demo {
  func @add(%a: tensor<4xf32>, %b: tensor<8xf32>) -> tensor<4xf32> = vm.add
}
`
	src, err := s.SourceWrapBuffer("bad.hir", []byte(bad))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()

	if err := inv.ParseSource(src); err == nil {
		t.Fatal("shape mismatch passed verification")
	}

	// with verification off the source parses
	inv.SetVerifyIR(false)
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse without verification: %v", err)
	}
}

func TestPhaseSelection(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()

	if err := inv.SetCompileFromPhase("input"); err != nil {
		t.Fatalf("from phase: %v", err)
	}
	if err := inv.SetCompileToPhase("vm"); err != nil {
		t.Fatalf("to phase: %v", err)
	}
	if err := inv.SetCompileFromPhase("warp"); err == nil {
		t.Fatal("unknown phase accepted")
	}

	src, err := s.SourceWrapBuffer("t.hir", []byte(validSource))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v", err)
	}

	// from after to fails at pipeline time
	if err := inv.SetCompileFromPhase("hal"); err != nil {
		t.Fatalf("from phase: %v", err)
	}
	if err := inv.SetCompileToPhase("flow"); err != nil {
		t.Fatalf("to phase: %v", err)
	}
	if err := inv.Pipeline(PipelineStd); err == nil {
		t.Fatal("inverted phase range accepted")
	}
}

func TestRunPassPipeline(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	src, err := s.SourceWrapBuffer("t.hir", []byte(validSource))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := inv.RunPassPipeline("canonicalize,cse,verify"); err != nil {
		t.Fatalf("pass pipeline: %v", err)
	}
	if err := inv.RunPassPipeline("fold-everything"); err == nil {
		t.Fatal("unknown pass accepted")
	}
}

func TestOutputIRRoundTrip(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	src, err := s.SourceWrapBuffer("t.hir", []byte(validSource))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v", err)
	}

	out, err := OutputToMemory()
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	defer out.Close()
	if err := inv.OutputIR(out); err != nil {
		t.Fatalf("output IR: %v", err)
	}
	data, err := out.Map()
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "module @demo") || !strings.Contains(text, "vm.add") {
		t.Fatalf("printed IR = %q", text)
	}

	// printed IR parses again
	src2, err := s.SourceWrapBuffer("reparse.hir", data)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src2.Close()
	if err := inv.ParseSource(src2); err != nil {
		t.Fatalf("reparse: %v", err)
	}
}

func TestFileOutputKeepSemantics(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	src, err := s.SourceWrapBuffer("t.hir", []byte(validSource))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := inv.Pipeline(PipelineStd); err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	dir := t.TempDir()

	kept := filepath.Join(dir, "kept.hvmb")
	out, err := OutputToFile(kept)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if err := inv.OutputVMBytecode(out); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := out.Keep(); err != nil {
		t.Fatalf("keep: %v", err)
	}
	out.Close()
	if _, err := os.Stat(kept); err != nil {
		t.Fatalf("kept output missing: %v", err)
	}

	dropped := filepath.Join(dir, "dropped.hvmb")
	out2, err := OutputToFile(dropped)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if err := inv.OutputVMBytecode(out2); err != nil {
		t.Fatalf("emit: %v", err)
	}
	out2.Close()
	if _, err := os.Stat(dropped); !os.IsNotExist(err) {
		t.Fatalf("unkept output survived: %v", err)
	}
}

func TestHALExecutableRequiresSingleFunction(t *testing.T) {
	c := newCompiler(t)
	s, err := c.NewSession()
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer s.Close()

	two := `module @demo {
  func @add(%a: tensor<4xf32>, %b: tensor<4xf32>) -> tensor<4xf32> = vm.add
  func @mul(%a: tensor<4xf32>, %b: tensor<4xf32>) -> tensor<4xf32> = vm.mul
}
`
	src, err := s.SourceWrapBuffer("two.hir", []byte(two))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	defer src.Close()

	inv, err := s.NewInvocation()
	if err != nil {
		t.Fatalf("invocation: %v", err)
	}
	defer inv.Close()
	if err := inv.ParseSource(src); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := inv.Pipeline(PipelineHALExecutable); err == nil {
		t.Fatal("executable pipeline accepted a multi-function module")
	}
}
