package orchestrate

import (
	"fmt"
	"strconv"
	"strings"

	"atomic-deploy/internal/jobconfig"
	"atomic-deploy/internal/joberrors"
)

// qsubTopTemplate is the scheduler header, grounded on
// original_source/atomic_hpc/deploy_runs.py's _qsub_top_template, carried
// over near-verbatim. It emits the jobname, walltime and select
// (nnodes, ncpus) directives plus optional queue, email and mem lines;
// process.qsub.tmpspace is not emitted. The shebang is "#!/bin/bash --login" rather than the
// original's plain "#!/bin/bash", per spec.md's S4 scenario, so the job
// shell sources /etc/profile and the user's login profile (module
// commands, PATH entries the scheduler's non-interactive shell otherwise
// lacks) before running any of the job's commands.
const qsubTopTemplate = `#!/bin/bash --login
#PBS -N %s
#PBS -l walltime=%s
#PBS -l select=%d:ncpus=%d%s%s%s

echo "<qstat -f $PBS_JOBID>"
qstat -f $PBS_JOBID
echo "</qstat -f $PBS_JOBID>"

export NCORES=%d
export NPROCESSES=%d

export PBS_O_WORKDIR=$(readlink -f $PBS_O_WORKDIR || echo $PBS_O_WORKDIR)

export OMP_NUM_THREADS=1

%s
`

// resolveWalltime normalizes a walltime string to H:MM:SS, grounded on
// _resolve_walltime: H -> H:00:00, H:M -> H:MM:00, H:M:S -> H:MM:SS, with
// every component after the first zero-padded to two digits.
func resolveWalltime(walltime string) (string, error) {
	parts := strings.Split(walltime, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return "", joberrors.New(joberrors.BadWalltime, "the walltime is not in the correct format: %s", walltime)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", joberrors.New(joberrors.BadWalltime, "the walltime is not in the correct format: %s", walltime)
		}
		nums[i] = n
	}
	switch len(nums) {
	case 1:
		return fmt.Sprintf("%d:00:00", nums[0]), nil
	case 2:
		return fmt.Sprintf("%d:%02d:00", nums[0], nums[1]), nil
	default:
		return fmt.Sprintf("%d:%02d:%02d", nums[0], nums[1], nums[2]), nil
	}
}

// jobnameTrunc truncates name to 14 characters, the PBS job-name limit
// spec §4.8 names explicitly.
func jobnameTrunc(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:14]
}

// renderQsubScript builds the literal run.qsub content for one run,
// implementing spec §4.8 end to end: the header directives from
// _create_qsub, then a body the original never implemented
// (deploy_run_qsub was an unimplemented stub) — status dump, exports,
// module loads, the start_in_temp branch, user commands, remove/rename
// directives and the copy-back, all built fresh from the specification.
func renderQsubScript(run *jobconfig.Run, commands []string, workDir string) (string, error) {
	qsub := run.Process.Qsub

	walltime, err := resolveWalltime(qsub.Walltime)
	if err != nil {
		return "", err
	}

	jobname := jobnameTrunc(fmt.Sprintf("%d_%s", run.ID, run.Name))
	nprocs := qsub.NNodes * qsub.CoresPerNode

	var queueLine, emailLine, memLine string
	if qsub.Queue != "" {
		queueLine = "\n#PBS -q " + qsub.Queue
	}
	if qsub.Email != "" {
		emailLine = "\n#PBS -m bae\n#PBS -M " + qsub.Email
	}
	if qsub.MemoryPerNode != "" {
		memLine = "\n#PBS -l mem=" + qsub.MemoryPerNode
	}

	var loadModules string
	if len(qsub.Modules) > 0 {
		loadModules = "module load " + strings.Join(qsub.Modules, " ")
	}

	header := fmt.Sprintf(qsubTopTemplate,
		jobname, walltime, qsub.NNodes, qsub.CoresPerNode, queueLine, emailLine, memLine,
		qsub.CoresPerNode, nprocs, loadModules)

	var body strings.Builder
	body.WriteString(header)

	if qsub.StartInTemp {
		body.WriteString(renderStartInTemp(workDir))
	} else {
		fmt.Fprintf(&body, "cd %q\n", workDir)
	}

	body.WriteString("\n# user commands\n")
	for _, c := range commands {
		body.WriteString(c)
		body.WriteString("\n")
	}

	for _, pattern := range run.Output.Remove {
		fmt.Fprintf(&body, "\nfind . -path %q | xargs -r rm -Rf\n", pattern)
	}
	for _, pair := range run.Output.Rename {
		if pair.Old == "" {
			continue
		}
		fmt.Fprintf(&body, "\nfind . -depth -name '*%s*' -execdir bash -c 'mv \"$1\" \"${1//%s/%s}\"' _ {} \\;\n",
			pair.Old, pair.Old, pair.New)
	}

	if qsub.StartInTemp {
		fmt.Fprintf(&body, "\ncp -pR $TMPDIR/* %q\n", workDir)
	}

	return body.String(), nil
}

// renderStartInTemp implements spec §4.8 step 4's true branch: validate
// $TMPDIR, cd into it, and stage the working directory's contents either
// by SSHing the contents out to each unique compute node listed in
// $PBS_NODEFILE, or with a single local copy when there is no node list.
func renderStartInTemp(workDir string) string {
	var b strings.Builder
	b.WriteString(`
if [ -z "$TMPDIR" ]; then
    echo "TMPDIR is not set" >&2
    exit 1
fi
cd $TMPDIR

if [ -n "$PBS_NODEFILE" ] && [ -f "$PBS_NODEFILE" ]; then
    for node in $(sort -u $PBS_NODEFILE); do
        ssh $node "mkdir -p $TMPDIR"
        scp -r `)
	fmt.Fprintf(&b, "%q/* $node:$TMPDIR/\n", workDir)
	b.WriteString(`    done
else
    cp -pR `)
	fmt.Fprintf(&b, "%q/* $TMPDIR/\n", workDir)
	b.WriteString("fi\n")
	return b.String()
}
