package jobs

import (
	"context"
	"path/filepath"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/os/temp"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

// Coreceptor predicts tropism for the whole submission in a single run.
var Coreceptor = Descriptor[CoreceptorDetail]{
	Type:    domain.Coreceptor,
	Subject: func(CoreceptorDetail) string { return "Coreceptor" },
	Receipt: func(d CoreceptorDetail) string { return notify.SequenceNames(d.Sequences) },
	Prepare: func(_ context.Context, pc *pipeline.PipelineContext[CoreceptorDetail], _ Env) ([]runner.WorkUnit, error) {
		dir, err := temp.Open(filepath.Join(pc.ScratchDir, "input"))
		if err != nil {
			return nil, err
		}
		if _, err := sequencesFile(dir.Dir, "sequences.fasta", pc.Data.Sequences); err != nil {
			return nil, err
		}
		return []runner.WorkUnit{{Name: pc.Data.JobID(), Dir: dir.Dir}}, nil
	},
	Commands: func(pc *pipeline.PipelineContext[CoreceptorDetail], env Env, u runner.WorkUnit) ([]exec.Command, error) {
		return []exec.Command{exec.NewCommand("conda", "run", "-n", "coreceptor", "python3",
			filepath.Join(env.Tools.CoreceptorBasePath, "coreceptor.py"),
			filepath.Join(u.Dir, "sequences.fasta"), pc.Data.JobID()).InDir(u.Dir)}, nil
	},
	Artifact:       func(d CoreceptorDetail) string { return d.JobID() + ".csv" },
	KeepNames:      true,
	MissingMessage: "Failed to create %[1]s.",
	RequireSuccess: true,
}
