// Package jobconfig loads and validates the run-set configuration file: a
// YAML document with a top-level "defaults" mapping deep-merged into every
// entry of "runs", producing the fully-defaulted Run records the rest of
// the engine consumes. See original_source/atomic_hpc/config_yaml.py for
// the Python shape this was distilled from.
package jobconfig

// Connection describes how to reach a source or target location. A
// Connection with an empty Hostname means "not remote; use the local
// filesystem rooted at the configured path."
type Connection struct {
	Hostname           string `yaml:"hostname"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	PrivateKeyPath     string `yaml:"private_key_path"`
	PrivateKeyMaterial string `yaml:"private_key_material"`
	TimeoutSeconds     int    `yaml:"timeout"`
}

// IsRemote reports whether this connection targets a remote host.
func (c *Connection) IsRemote() bool {
	return c != nil && c.Hostname != ""
}

// Input describes where to gather per-run scripts, files and variables.
type Input struct {
	Path      string            `yaml:"path"`
	Scripts   []string          `yaml:"scripts"`
	Files     map[string]string `yaml:"files"`
	Variables map[string]string `yaml:"variables"`
	Remote    *Connection       `yaml:"remote"`
}

// RenamePair is one (old-substring, replacement) entry of an output rename
// map; Output.Rename keeps these in the insertion order they appeared in
// the YAML document, since the engine applies them in that order.
type RenamePair struct {
	Old string
	New string
}

// Output describes the per-run materialization target and its finalize step.
type Output struct {
	Path   string       `yaml:"path"`
	Remove []string     `yaml:"remove"`
	Rename []RenamePair `yaml:"-"`
	Remote *Connection  `yaml:"remote"`
}

// QsubSettings configures the PBS/Torque-style batch scheduler job script.
type QsubSettings struct {
	Jobname       string   `yaml:"jobname"`
	NNodes        int      `yaml:"nnodes"`
	CoresPerNode  int      `yaml:"cores_per_node"`
	Walltime      string   `yaml:"walltime"`
	Queue         string   `yaml:"queue"`
	Modules       []string `yaml:"modules"`
	Email         string   `yaml:"email"`
	MemoryPerNode string   `yaml:"memory_per_node"`
	TmpSpace      string   `yaml:"tmpspace"`
	StartInTemp   bool     `yaml:"start_in_temp"`
	Run           []string `yaml:"run"`
}

// Process groups the per-environment command lists and scheduler settings.
type Process struct {
	Unix struct {
		Run []string `yaml:"run"`
	} `yaml:"unix"`
	Windows struct {
		Run []string `yaml:"run"`
	} `yaml:"windows"`
	Qsub QsubSettings `yaml:"qsub"`
}

// Run is a fully-defaulted configuration record for one deployment unit.
type Run struct {
	ID          int    `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Environment string `yaml:"environment"`

	Input  *Input `yaml:"input"`
	Output Output `yaml:"output"`

	Process Process `yaml:"process"`
}

const (
	EnvUnix    = "unix"
	EnvWindows = "windows"
	EnvQsub    = "qsub"
)
