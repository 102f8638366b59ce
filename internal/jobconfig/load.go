package jobconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"atomic-deploy/internal/joberrors"
	"atomic-deploy/internal/joblog"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Document is the parsed, fully-defaulted configuration: every run in the
// order it appeared in the file, plus the base path used to resolve
// relative input/output paths against.
type Document struct {
	Runs     []Run
	BasePath string
}

// Load reads, env-interpolates, defaults-merges and validates a config
// file at configPath. basePath resolves relative input/output paths
// within each run (defaults to configPath's directory when empty).
func Load(configPath, basePath string) (*Document, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, joberrors.Wrap(joberrors.ConfigInvalid, err, "reading config file %s", configPath)
	}

	envMap, _ := loadDotEnvIfExists(filepath.Dir(configPath))
	rendered := interpolateEnv(string(raw), envMap)

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(rendered), &root); err != nil {
		return nil, joberrors.Wrap(joberrors.ConfigInvalid, err, "parsing config YAML")
	}
	if len(root.Content) == 0 {
		return nil, joberrors.New(joberrors.ConfigInvalid, "empty config document")
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, joberrors.New(joberrors.ConfigInvalid, "top-level config must be a mapping")
	}

	var fileDefaults *yaml.Node
	var runsNode *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		switch doc.Content[i].Value {
		case "defaults":
			fileDefaults = doc.Content[i+1]
		case "runs":
			runsNode = doc.Content[i+1]
		default:
			return nil, joberrors.New(joberrors.ConfigInvalid, "unknown top-level field %q", doc.Content[i].Value)
		}
	}
	if runsNode == nil || runsNode.Kind != yaml.SequenceNode || len(runsNode.Content) == 0 {
		return nil, joberrors.New(joberrors.ConfigInvalid, "config must contain a non-empty \"runs\" list")
	}

	var globalDefaults yaml.Node
	if err := yaml.Unmarshal([]byte(globalDefaultsYAML), &globalDefaults); err != nil {
		return nil, fmt.Errorf("internal error parsing built-in defaults: %w", err)
	}
	baseDefaults := globalDefaults.Content[0]
	if fileDefaults != nil {
		baseDefaults = mergeNodes(baseDefaults, fileDefaults)
	}

	runs := make([]Run, 0, len(runsNode.Content))
	for i, runNode := range runsNode.Content {
		merged := mergeNodes(baseDefaults, runNode)

		var run Run
		if err := strictDecode(merged, &run); err != nil {
			return nil, joberrors.Wrap(joberrors.ConfigInvalid, err, "error in run #%d config", i+1)
		}

		if err := validateRun(&run, i+1); err != nil {
			return nil, err
		}

		normalizeRun(&run)
		runs = append(runs, run)
	}

	if err := checkUniqueIDs(runs); err != nil {
		return nil, err
	}

	if basePath == "" {
		basePath = filepath.Dir(configPath)
	}

	return &Document{Runs: runs, BasePath: basePath}, nil
}

// strictDecode marshals the merged node back to YAML bytes and decodes it
// with KnownFields enabled, so that a field not named in §3 of the engine's
// run schema is rejected at load time rather than silently ignored.
func strictDecode(node *yaml.Node, run *Run) error {
	out, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(out))
	dec.KnownFields(true)
	return dec.Decode(run)
}

func validateRun(run *Run, position int) error {
	if run.ID <= 0 {
		return joberrors.New(joberrors.ConfigInvalid, "run #%d: id must be a positive integer", position)
	}
	if strings.TrimSpace(run.Name) == "" {
		return joberrors.New(joberrors.ConfigInvalid, "run #%d: name must not be empty", position)
	}
	switch run.Environment {
	case EnvUnix, EnvWindows, EnvQsub:
	default:
		return joberrors.New(joberrors.ConfigInvalid, "run #%d: unknown environment %q", position, run.Environment)
	}
	if err := validateConnection(run.Input.connectionOrNil(), position, "input"); err != nil {
		return err
	}
	if err := validateConnection(run.Output.Remote, position, "output"); err != nil {
		return err
	}
	if run.Environment == EnvQsub {
		if strings.TrimSpace(run.Process.Qsub.Walltime) == "" {
			return joberrors.New(joberrors.ConfigInvalid, "run #%d: process.qsub.walltime is required for qsub runs", position)
		}
		if run.Process.Qsub.NNodes <= 0 || run.Process.Qsub.CoresPerNode <= 0 {
			return joberrors.New(joberrors.ConfigInvalid, "run #%d: process.qsub.nnodes and cores_per_node must be positive", position)
		}
	}
	return nil
}

func (in *Input) connectionOrNil() *Connection {
	if in == nil {
		return nil
	}
	return in.Remote
}

// validateConnection enforces "exactly one of password or key material
// authenticates" once a hostname is actually present.
func validateConnection(conn *Connection, position int, side string) error {
	if !conn.IsRemote() {
		return nil
	}
	hasPassword := conn.Password != ""
	hasKey := conn.PrivateKeyPath != "" || conn.PrivateKeyMaterial != ""
	if hasPassword == hasKey {
		return joberrors.New(joberrors.ConfigInvalid,
			"run #%d: %s.remote must set exactly one of password or private key", position, side)
	}
	return nil
}

// normalizeRun drops an Input block that, after merging, carries no actual
// content — matching the original tool's collapse of an all-nil input
// section to "no input configured".
func normalizeRun(run *Run) {
	if run.Input == nil {
		return
	}
	in := run.Input
	if in.Remote != nil && in.Remote.Hostname == "" {
		in.Remote = nil
	}
	if in.Path == "" && in.Remote == nil && len(in.Scripts) == 0 && len(in.Files) == 0 && len(in.Variables) == 0 {
		run.Input = nil
		return
	}
	if run.Output.Remote != nil && run.Output.Remote.Hostname == "" {
		run.Output.Remote = nil
	}
}

func checkUniqueIDs(runs []Run) error {
	seen := make(map[int]bool, len(runs))
	var dupes []int
	ids := make([]int, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
		if seen[r.ID] {
			dupes = append(dupes, r.ID)
		}
		seen[r.ID] = true
	}
	if len(dupes) > 0 {
		sort.Ints(dupes)
		return joberrors.New(joberrors.ConfigInvalid, "duplicate run ids: %v (all ids: %v)", dupes, ids)
	}
	return nil
}

func loadDotEnvIfExists(dir string) (map[string]string, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	m, err := godotenv.Read(envPath)
	if err != nil {
		joblog.Warn("failed to parse .env at %s: %v", envPath, err)
		return map[string]string{}, err
	}
	return m, nil
}

// interpolateEnv replaces only braced ${VAR} occurrences in the input text
// (never bare $VAR, which is left untouched so that scheduler variables
// like $PBS_O_WORKDIR or $TMPDIR embedded in a run's command lines survive
// to be expanded on the remote node, not at config-load time — see spec
// §6 "Environment variables consumed by emitted scripts, not by the
// engine"). Precedence: OS environment, then the config directory's .env
// file, matching the teacher's config.go interpolateEnv behavior.
func interpolateEnv(input string, envMap map[string]string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if v, ok := envMap[name]; ok {
			return v
		}
		joblog.Warn("environment variable %s not set; using empty string", name)
		return ""
	})
}

var envVarPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)
