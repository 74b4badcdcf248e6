package jobs

import (
	"context"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

/*
scratch layout:

	temp_downloads/      bucket inputs, removed once sorted
	libs/<lib>/          <lib>_r1.fastq, <lib>_r2.fastq, output.tsv, output.html
	<job id>/            results
*/

// Splicing runs the splicing binary on the read pair of every library.
var Splicing = Descriptor[SplicingDetail]{
	Type:    domain.Splicing,
	Subject: func(SplicingDetail) string { return "Splicing" },
	Receipt: func(d SplicingDetail) string {
		return notify.KeyValues("Parameters", map[string]string{
			"Strain":   d.Strain,
			"Assay":    d.Assay,
			"Distance": strconv.Itoa(d.Distance),
		})
	},
	Prepare: func(ctx context.Context, pc *pipeline.PipelineContext[SplicingDetail], _ Env) ([]runner.WorkUnit, error) {
		libs := filepath.Join(pc.ScratchDir, "libs")
		if _, err := stageReads(ctx, pc.Data.HTSF, pc.ScratchDir, libs, pc.BucketDownload, pc.Log); err != nil {
			return nil, errors.Wrap(err, "Failed to sort input files.")
		}
		return libraryUnits(libs)
	},
	Commands: func(pc *pipeline.PipelineContext[SplicingDetail], env Env, u runner.WorkUnit) ([]exec.Command, error) {
		pair, err := unitReads(u.Dir)
		if err != nil {
			return nil, err
		}
		d := pc.Data
		return []exec.Command{exec.NewCommand(env.Tools.SplicingBinary, "-q", d.Strain, "-d", strconv.Itoa(d.Distance),
			"-a", d.Assay, "-1", pair.R1, "-2", pair.R2).InDir(u.Dir)}, nil
	},
	Artifact: func(SplicingDetail) string { return "output.tsv" },
	Extras:   []string{"output.html"},
}

// unitReads finds the read pair sorted into a library directory.
func unitReads(dir string) (ReadPair, error) {
	var pair ReadPair
	matches, err := filepath.Glob(filepath.Join(dir, "*.fast*"))
	if err != nil {
		return pair, err
	}
	for _, m := range matches {
		_, r1, r2 := libraryOf(filepath.Base(m))
		switch {
		case r1:
			pair.R1 = m
		case r2:
			pair.R2 = m
		}
	}
	if pair.R1 == "" || pair.R2 == "" {
		return pair, errors.Errorf("missing r1 or r2 reads in %s", filepath.Base(dir))
	}
	return pair, nil
}
