package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/notify"
	"github.com/primerid/hpcqueue/os/temp"
	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
	"github.com/primerid/hpcqueue/worker/runner"
)

// tcsPrimer is a primer pair in the shape the tcs params file expects.
type tcsPrimer struct {
	Region        string  `json:"region"`
	Supermajority float64 `json:"supermajority"`
	Forward       string  `json:"forward"`
	CDNA          string  `json:"cdna"`
	EndJoin       bool    `json:"end_join"`
	EndJoinOption *int    `json:"end_join_option"`
	Overlap       *int    `json:"overlap"`
	TCSQC         bool    `json:"TCS_QC"`
	RefGenome     *string `json:"ref_genome"`
	RefStart      *int    `json:"ref_start"`
	RefEnd        *int    `json:"ref_end"`
	Indel         bool    `json:"indel"`
	Trim          *bool   `json:"trim"`
	TrimRef       *string `json:"trim_ref"`
	TrimRefStart  *int    `json:"trim_ref_start"`
	TrimRefEnd    *int    `json:"trim_ref_end"`
}

type tcsParams struct {
	RawSequenceDir    string      `json:"raw_sequence_dir"`
	PlatformErrorRate float64     `json:"platform_error_rate"`
	PlatformFormat    int         `json:"platform_format"`
	PrimerPairs       []tcsPrimer `json:"primer_pairs"`
}

// paramsFor builds the tcs params of one library directory.
func paramsFor(d TCSDetail, dir string) tcsParams {
	p := tcsParams{RawSequenceDir: dir, PrimerPairs: []tcsPrimer{}}
	if d.ErrorRate != nil {
		p.PlatformErrorRate = *d.ErrorRate
	}
	if d.PlatformFormat != nil {
		p.PlatformFormat = *d.PlatformFormat
	}
	for _, pr := range d.Primers {
		p.PrimerPairs = append(p.PrimerPairs, tcsPrimer{
			Region:        pr.Region,
			Supermajority: pr.Supermajority,
			Forward:       pr.Forward,
			CDNA:          pr.CDNA,
			EndJoin:       pr.EndJoin,
			EndJoinOption: pr.EndJoinOption,
			Overlap:       pr.EndJoinOverlap,
			TCSQC:         pr.QC,
			RefGenome:     pr.RefGenome,
			RefStart:      pr.RefStart,
			RefEnd:        pr.RefEnd,
			Indel:         pr.AllowIndels,
			Trim:          pr.Trim,
			TrimRef:       pr.TrimGenome,
			TrimRefStart:  pr.TrimStart,
			TrimRefEnd:    pr.TrimEnd,
		})
	}
	return p
}

func samplesDir(pc *pipeline.PipelineContext[TCSDetail]) string {
	return filepath.Join(pc.ScratchDir, pc.Data.Pool())
}

// stageReads sorts a job's reads into <dst>/<library>/, from the HTSF share when one
// was given and from the job's bucket prefix otherwise.
func stageReads(ctx context.Context, htsf, scratch, dst string, download func(ctx context.Context, from, to string, recursive bool) error, logf func(string)) (map[string]*ReadPair, error) {
	if htsf != "" {
		logf("Transferring results from HTSF location: " + htsf)
		if _, err := os.Stat(htsf); err != nil {
			return nil, errors.Wrapf(err, "HTSF location does not exist: %s", htsf)
		}
		return SortReads(htsf, dst)
	}
	downloads := filepath.Join(scratch, "temp_downloads")
	logf("Downloading samples from bucket.")
	if err := download(ctx, "*", downloads, true); err != nil {
		return nil, errors.Wrap(err, "Failed to download bucket files.")
	}
	defer os.RemoveAll(downloads)
	return SortReads(downloads, dst)
}

func tcsReceipt(d TCSDetail) string {
	kv := map[string]string{"Pool Name": d.Pool()}
	if d.IsDR() {
		kv["DR Version"] = d.DRVersion
	} else {
		regions := make([]string, len(d.Primers))
		for i, p := range d.Primers {
			regions[i] = p.Region
		}
		kv["Regions"] = strings.Join(regions, ", ")
	}
	for _, u := range d.Uploads {
		kv[u.FileName] = u.PoolName
	}
	return notify.KeyValues(d.Kind(), kv)
}

// tcsErrorSentinel is where tcs writes the reason it rejected a library.
const tcsErrorSentinel = ".error"

// TCSDR runs tcs once per library, then builds the pool report. DR submissions
// also get a drug resistance mutation analysis of the combined consensus.
var TCSDR = Descriptor[TCSDetail]{
	Type:    domain.TCSDR,
	Subject: func(d TCSDetail) string { return d.Kind() },
	Receipt: tcsReceipt,
	Prepare: func(ctx context.Context, pc *pipeline.PipelineContext[TCSDetail], _ Env) ([]runner.WorkUnit, error) {
		samples, err := temp.Open(samplesDir(pc))
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create samples directory.")
		}
		if _, err := stageReads(ctx, pc.Data.HTSF, pc.ScratchDir, samples.Dir, pc.BucketDownload, pc.Log); err != nil {
			return nil, errors.Wrap(err, "Failed to sort input files by lib name.")
		}
		return libraryUnits(samples.Dir)
	},
	Commands: func(pc *pipeline.PipelineContext[TCSDetail], env Env, u runner.WorkUnit) ([]exec.Command, error) {
		if pc.Data.IsDR() {
			return []exec.Command{exec.NewCommand("conda", "run", "-n", "tcsdr", "tcs",
				"-d", pc.Data.DRVersion, "-i", u.Dir).InDir(pc.ScratchDir)}, nil
		}
		params := filepath.Join(u.Dir, fmt.Sprintf("params_%s.json", u.Name))
		if err := writeJSON(params, paramsFor(pc.Data, u.Dir)); err != nil {
			return nil, err
		}
		return []exec.Command{exec.NewCommand("conda", "run", "-n", "tcsdr", "tcs", "-p", params).InDir(pc.ScratchDir)}, nil
	},
	Filters:  []runner.Filter{{Sentinel: tcsErrorSentinel, Failure: true}},
	Finalize: finalizeTCS,
}

func finalizeTCS(ctx context.Context, pc *pipeline.PipelineContext[TCSDetail], env Env, outcome *runner.JobOutcome, resultsDir string) (string, error) {
	if reported := tcsErrors(outcome); len(reported) > 0 {
		return "", errors.Errorf("TCS/DR Error:\n\n%s", strings.Join(reported, "\n\n"))
	}
	samples := samplesDir(pc)
	if err := runJobCommand(ctx, pc, env, exec.NewCommand("conda", "run", "-n", "tcsdr", "tcs_log", samples).InDir(pc.ScratchDir)); err != nil {
		return "", errors.Wrap(err, "Failed to run consensus.")
	}

	sdrmTemp := filepath.Join(pc.ScratchDir, "temp")
	if pc.Data.IsDR() {
		if _, err := temp.Open(sdrmTemp); err != nil {
			return "", errors.Wrap(err, "Failed to create temp SDRM directory.")
		}
		if err := copyTree(samples+"_tcs/combined_TCS_per_lib", sdrmTemp); err != nil {
			return "", errors.Wrap(err, "Failed to copy files to temp SDRM directory.")
		}
		sdrm := exec.NewCommand("conda", "run", "-n", "tcsdr", "tcs_sdrm", sdrmTemp, pc.Data.DRVersion).InDir(sdrmTemp)
		if err := runJobCommand(ctx, pc, env, sdrm); err != nil {
			return "", errors.Wrap(err, "Failed to run SDRM.")
		}
		if b, err := os.ReadFile(filepath.Join(samples+"_DRM_analysis", ".error")); err == nil {
			return "", errors.Errorf("SDRM Error:\n\n%s", b)
		}
	}

	report := "logs/log.html"
	if err := pc.BucketUpload(ctx, samples+"_tcs/log.html", report); err != nil {
		return "", errors.Wrap(err, "Failed to upload report.")
	}
	reportURL, err := pc.BucketSignedURL(ctx, report)
	if err != nil {
		return "", errors.Wrap(err, "Failed to sign report url.")
	}

	if err := moveInto(resultsDir, samples, samples+"_tcs", samples+"_DRM_analysis", sdrmTemp); err != nil {
		return "", errors.Wrap(err, "Failed to move files to results location.")
	}

	header := fmt.Sprintf("ID: %s<br>", pc.Data.ID)
	if pc.Data.PoolName != "" {
		header += fmt.Sprintf("Pool Name: %s<br>", pc.Data.PoolName)
	}
	return header + fmt.Sprintf("<br><a href='%s' style='font-size: 18px;'>View Report</a><br>", reportURL), nil
}

// tcsErrors returns the messages of units where tcs itself reported an error.
// Units that failed without a .error only show up in the summary.
func tcsErrors(outcome *runner.JobOutcome) []string {
	var msgs []string
	for _, r := range outcome.Results {
		if r.Status != runner.Failed {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.Unit.Dir, tcsErrorSentinel)); err == nil {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}

// runJobCommand runs a job-level step with its output appended to the job log.
func runJobCommand(ctx context.Context, pc *pipeline.PipelineContext[TCSDetail], env Env, cmd exec.Command) error {
	pc.Log(fmt.Sprintf("Running command: %s\nExec Location: %s", cmd, cmd.Dir))
	f, err := os.OpenFile(pc.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return runner.NewToolRunner(env.Runner, env.Tools.UnitTimeout).Run(ctx, cmd, f)
}
