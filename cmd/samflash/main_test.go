package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenTargetDryRun(t *testing.T) {
	tgt, err := openTarget(&globalFlags{dryRun: "SAM3X8E"})
	if err != nil {
		t.Fatal(err)
	}
	defer tgt.Close()

	if tgt.chipID != 0x285e0a60 {
		t.Errorf("chip id = %08x", tgt.chipID)
	}
	if err := tgt.pr.Init(); err != nil {
		t.Fatal(err)
	}
	if n := len(tgt.pr.Descriptors()); n != 2 {
		t.Errorf("got %d descriptors", n)
	}
}

func TestOpenTargetUnknownModel(t *testing.T) {
	if _, err := openTarget(&globalFlags{dryRun: "atmega328"}); err == nil {
		t.Error("expected error")
	}
}

func TestWriteCmdDryRun(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(bin, make([]byte, 1000), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := writeCmd(&globalFlags{dryRun: "same70q21"})
	cmd.SetArgs([]string{bin})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRunCmdDryRun(t *testing.T) {
	cmd := runCmd(&globalFlags{dryRun: "sam3x8e"})
	cmd.SetArgs([]string{"0x80000"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("run: %v", err)
	}

	cmd = runCmd(&globalFlags{dryRun: "sam3x8e"})
	cmd.SetArgs([]string{"flash"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for a bad address")
	}
}
