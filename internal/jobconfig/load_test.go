package jobconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesGlobalAndFileDefaults(t *testing.T) {
	cfgPath := writeTempConfig(t, `
defaults:
  output:
    path: built

runs:
  - id: 1
    name: run-one
    process:
      unix:
        run:
          - echo hi
`)

	doc, err := Load(cfgPath, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(doc.Runs))
	}
	run := doc.Runs[0]
	if run.Environment != EnvUnix {
		t.Fatalf("expected default environment unix, got %q", run.Environment)
	}
	if run.Output.Path != "built" {
		t.Fatalf("expected file default output.path=built, got %q", run.Output.Path)
	}
	if run.Process.Qsub.CoresPerNode != 16 {
		t.Fatalf("expected global default cores_per_node=16, got %d", run.Process.Qsub.CoresPerNode)
	}
}

func TestLoadRejectsUnknownTopLevelField(t *testing.T) {
	cfgPath := writeTempConfig(t, `
bogus: true
runs:
  - id: 1
    name: a
`)
	if _, err := Load(cfgPath, ""); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	cfgPath := writeTempConfig(t, `
runs:
  - id: 1
    name: a
  - id: 1
    name: b
`)
	if _, err := Load(cfgPath, ""); err == nil {
		t.Fatal("expected error for duplicate run ids")
	}
}

func TestLoadRejectsBadConnection(t *testing.T) {
	cfgPath := writeTempConfig(t, `
runs:
  - id: 1
    name: a
    input:
      path: in
      remote:
        hostname: example.com
`)
	_, err := Load(cfgPath, "")
	if err == nil || !strings.Contains(err.Error(), "exactly one of password or private key") {
		t.Fatalf("expected connection validation error, got %v", err)
	}
}

func TestLoadInterpolatesBracedEnvVarsOnly(t *testing.T) {
	t.Setenv("ATOMIC_DEPLOY_TEST_HOST", "example.org")

	cfgPath := writeTempConfig(t, `
runs:
  - id: 1
    name: a
    input:
      path: "${ATOMIC_DEPLOY_TEST_HOST}"
    process:
      qsub:
        walltime: "24:00:00"
        nnodes: 1
        cores_per_node: 1
        run:
          - echo $PBS_O_WORKDIR
    environment: qsub
`)

	doc, err := Load(cfgPath, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if doc.Runs[0].Input.Path != "example.org" {
		t.Fatalf("expected braced env var interpolated, got %q", doc.Runs[0].Input.Path)
	}
	if doc.Runs[0].Process.Qsub.Run[0] != "echo $PBS_O_WORKDIR" {
		t.Fatalf("expected bare $VAR left untouched, got %q", doc.Runs[0].Process.Qsub.Run[0])
	}
}
