package jobs

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/primerid/hpcqueue/common/errors"
	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/os/temp"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

type ogvSamples struct {
	Samples []string `json:"samples"`
}

type ogvConversion struct {
	Start2ART int   `json:"Start2ART"`
	Colors    []int `json:"colors"`
}

func ogvReceipt(d OGVDetail) string {
	uploads := make([]string, len(d.Uploads))
	for i, u := range d.Uploads {
		uploads[i] = u.LibName + ": " + u.FileName
	}
	sort.Strings(uploads)
	return notify.KeyValues("Start2Art", d.Conversion) + "</br></br><u>Uploads</u>:<br>" + strings.Join(uploads, "<br>")
}

// conversions parses the submitted start of ART of every sample.
func conversions(d OGVDetail) (map[string]ogvConversion, error) {
	out := make(map[string]ogvConversion, len(d.Conversion))
	for sample, v := range d.Conversion {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, errors.NewJobDataError(err, "Start2ART of %s is not a number: %q", sample, v)
		}
		out[sample] = ogvConversion{Start2ART: n, Colors: []int{}}
	}
	return out, nil
}

// OGV dates every uploaded library with one Snakemake run, which parallelizes
// across libraries itself.
var OGV = Descriptor[OGVDetail]{
	Type:    domain.OGV,
	Subject: func(OGVDetail) string { return "OGV Dating" },
	Receipt: ogvReceipt,
	Prepare: func(ctx context.Context, pc *pipeline.PipelineContext[OGVDetail], _ Env) ([]runner.WorkUnit, error) {
		dir, err := temp.Open(filepath.Join(pc.ScratchDir, "run"))
		if err != nil {
			return nil, err
		}
		conv, err := conversions(pc.Data)
		if err != nil {
			return nil, err
		}
		pc.Log("Downloading from bucket to " + dir.Path("data"))
		if err := pc.BucketDownload(ctx, "*", dir.Path("data"), true); err != nil {
			return nil, errors.NewTransientUpstreamError(err, "Failed to download bucket files")
		}
		samples := ogvSamples{Samples: []string{}}
		for _, u := range pc.Data.Uploads {
			samples.Samples = append(samples.Samples, u.LibName+"/"+u.FileName)
		}
		if err := writeJSON(dir.Path("samples.json"), samples); err != nil {
			return nil, err
		}
		if err := writeJSON(dir.Path("conversion.json"), conv); err != nil {
			return nil, err
		}
		return []runner.WorkUnit{{Name: pc.Data.JobID(), Dir: dir.Dir}}, nil
	},
	Commands: func(pc *pipeline.PipelineContext[OGVDetail], env Env, u runner.WorkUnit) ([]exec.Command, error) {
		base := env.Tools.OGVBasePath
		cores := env.Cores
		if cores < 1 {
			cores = 1
		}
		return []exec.Command{
			exec.NewCommand("conda", "run", "-n", "ogv", "snakemake", "--cores", strconv.Itoa(cores),
				"--config", "job_dir="+u.Dir+"/", "--configfile", filepath.Join(u.Dir, "samples.json"),
				"--directory", base+"/", "--keep-going", "--snakefile", filepath.Join(base, "Snakefile")).InDir(u.Dir),
			exec.NewCommand("conda", "run", "-n", "ogv", "python3", filepath.Join(base, "scripts", "result-summary.py"),
				"-d", filepath.Join(u.Dir, "results", "dating")+"/", "-j", filepath.Join(u.Dir, "conversion.json"),
				"-o", filepath.Join(u.Dir, "results", "summary.csv")).InDir(u.Dir),
		}, nil
	},
	Filters:        []runner.Filter{{Sentinel: "error", Failure: true}},
	Artifact:       func(OGVDetail) string { return filepath.Join("results", "summary.csv") },
	KeepNames:      true,
	MissingMessage: "Failed to create %[1]s for %[2]s.",
	RequireSuccess: true,
	Finalize: func(_ context.Context, pc *pipeline.PipelineContext[OGVDetail], _ Env, outcome *runner.JobOutcome, resultsDir string) (string, error) {
		return "", copyTree(filepath.Join(outcome.Results[0].Unit.Dir, "results"), resultsDir)
	},
}
