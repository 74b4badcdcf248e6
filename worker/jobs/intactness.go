package jobs

import (
	"context"
	"path/filepath"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

const intactnessHeader = "Contig ID,Sample ID,Multi-Contig Sample?,Multi-HIV Sample?,Contig Length," +
	"Aligned Length,Aligned coverage of Contig,Ref Seq ID,Aligned Start at Ref,Ref Strand,Is HIV?," +
	"Primer,Primer Seq,Large Deletion?,Internal Inversion?,Hypermut?,Hypermut pval,PSC?,gag,pol,env," +
	"5' Defect,5' Gaps,5' Inserts,Gag Start Codon Missing?,Gag Start Seq,Final Call,Comments,Contig Sequence"

// Intactness runs the intactness module once per submitted sequence.
var Intactness = Descriptor[IntactnessDetail]{
	Type:    domain.Intactness,
	Subject: func(IntactnessDetail) string { return "Intactness" },
	Receipt: func(d IntactnessDetail) string { return notify.SequenceNames(d.Sequences) },
	Prepare: func(_ context.Context, pc *pipeline.PipelineContext[IntactnessDetail], _ Env) ([]runner.WorkUnit, error) {
		return SplitFASTA(pc.Data.Sequences, filepath.Join(pc.ScratchDir, "sequences"))
	},
	Commands: func(pc *pipeline.PipelineContext[IntactnessDetail], env Env, u runner.WorkUnit) ([]exec.Command, error) {
		return []exec.Command{exec.NewCommand("conda", "run", "-n", "intactness", "--cwd", env.Tools.IntactnessBasePath,
			"python3", "-m", "intactness", "-in", filepath.Join(u.Dir, "seqs.fasta"), "-email", pc.Data.Email()).InDir(u.Dir)}, nil
	},
	Filters: []runner.Filter{
		{Sentinel: "no_seqs_found.txt", Message: "All sequences were filtered out during Blast. No results will be generated for %s."},
		{Sentinel: "no_gaps.txt", Message: "No gapped position found given a position on the reference genome. No results will be generated for %s."},
	},
	Artifact:       func(IntactnessDetail) string { return filepath.Join("intactness", "summary.csv") },
	MissingMessage: "No summary file found for %[2]s. No results were generated.",
	SummaryHeader:  intactnessHeader,
	Rows:           runner.SkipHeader,
}
