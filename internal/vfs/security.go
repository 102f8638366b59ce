package vfs

import (
	"regexp"
	"strings"
)

// securityRisks is the fixed deny list of destructive command-line
// patterns the prefilter rejects before ever spawning a child process or
// remote command — grounded verbatim on
// original_source/atomic_hpc/context_folder/abstract.py's
// check_cmndline_security.
var securityRisks = []string{
	"rm -rf / ",
	"rm -rf /;",
	":(){:|:&};:",
	" > /dev/sda",
	" > /dev/hda",
	"mv * /dev/null",
	"mkfs.ext3 /dev/sda",
	"mkfs.ext3 /dev/hda",
	"dd if=/dev/random of=/dev/sda",
	"dd if=/dev/zero of=/dev/hda",
	"dd if=/dev/zero of=/dev/sda",
	"mv / /dev/null",
	"dd if=/dev/random of=/dev/port",
	"echo 1 > /proc/sys/kernel/panic",
	"cat /dev/port",
	"cat /dev/zero > /dev/mem",
	"wget * -O- | sh",
	"rm -f /usr/bin/sudo",
	"rm -f /bin/su",
}

// checkCmndlineSecurity returns the matched risk pattern, or "" if the
// line is clear. Risk strings are mostly literal; a few contain "*" as a
// genuine wildcard (e.g. "mv * /dev/null", "wget * -O- | sh"), matched
// with riskMatches below — equivalent to the original's
// fnmatch("*{risk}*", line) for every entry. path/filepath.Match is not
// used here: its "*" refuses to cross a "/", which would miss a risk
// like "wget * -O- | sh" against a command embedding a URL.
func checkCmndlineSecurity(line string) string {
	for _, risk := range securityRisks {
		if riskMatches(risk, line) {
			return risk
		}
	}
	return ""
}

var riskPatternCache = map[string]*regexp.Regexp{}

// riskMatches reports whether risk, with any "*" treated as a wildcard
// matching zero or more characters (mirroring Python's fnmatch, which has
// no notion of a path separator), occurs anywhere in line.
func riskMatches(risk, line string) bool {
	if !strings.Contains(risk, "*") {
		return strings.Contains(line, risk)
	}
	re, ok := riskPatternCache[risk]
	if !ok {
		parts := strings.Split(risk, "*")
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		re = regexp.MustCompile(strings.Join(parts, ".*"))
		riskPatternCache[risk] = re
	}
	return re.MatchString(line)
}
