package orchestrate

import (
	"strings"
	"testing"

	"atomic-deploy/internal/jobconfig"
)

func TestResolveWalltimeNormalization(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"24", "24:00:00"},
		{"24:30", "24:30:00"},
		{"24:5", "24:05:00"},
		{"24:30:15", "24:30:15"},
		{"1:2:3", "1:02:03"},
	}
	for _, c := range cases {
		got, err := resolveWalltime(c.in)
		if err != nil {
			t.Fatalf("resolveWalltime(%q) returned error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("resolveWalltime(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveWalltimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"not-a-number", "1:2:3:4", ""} {
		if _, err := resolveWalltime(in); err == nil {
			t.Fatalf("resolveWalltime(%q) expected BadWalltime error", in)
		}
	}
}

func TestJobnameTruncation(t *testing.T) {
	if got := jobnameTrunc("12345678901234567890"); len(got) != 14 {
		t.Fatalf("expected truncation to 14 chars, got %q (%d)", got, len(got))
	}
	if got := jobnameTrunc("short"); got != "short" {
		t.Fatalf("expected short names untouched, got %q", got)
	}
}

func TestRenderQsubScriptDeterministic(t *testing.T) {
	run := &jobconfig.Run{ID: 3, Name: "sim"}
	run.Process.Qsub = jobconfig.QsubSettings{
		Walltime:     "24:00:00",
		NNodes:       2,
		CoresPerNode: 16,
		Modules:      []string{"gcc", "mpi"},
	}

	script, err := renderQsubScript(run, []string{"mpirun ./a.out"}, "/work/3_sim")
	if err != nil {
		t.Fatalf("renderQsubScript failed: %v", err)
	}
	if !strings.HasPrefix(script, "#!/bin/bash --login\n") {
		t.Fatalf("expected script to start with #!/bin/bash --login, got:\n%s", script)
	}
	if !strings.Contains(script, "#PBS -N 3_sim") {
		t.Fatalf("expected jobname directive, got:\n%s", script)
	}
	if !strings.Contains(script, "#PBS -l walltime=24:00:00") {
		t.Fatalf("expected walltime directive, got:\n%s", script)
	}
	if !strings.Contains(script, "module load gcc mpi") {
		t.Fatalf("expected module load line, got:\n%s", script)
	}
	if !strings.Contains(script, "mpirun ./a.out") {
		t.Fatalf("expected user command, got:\n%s", script)
	}

	script2, err := renderQsubScript(run, []string{"mpirun ./a.out"}, "/work/3_sim")
	if err != nil {
		t.Fatalf("renderQsubScript failed on second render: %v", err)
	}
	if script != script2 {
		t.Fatalf("expected deterministic output across renders")
	}
}
