package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/primerid/hpcqueue/common/os/exec"
	"github.com/primerid/hpcqueue/common/stats"
	"github.com/primerid/hpcqueue/os/temp"
)

// UnitLogName is the file in each unit directory receiving the unit's tool output.
const UnitLogName = "unit.log"

// WorkUnit is one independently runnable item of a job, with a private directory.
type WorkUnit struct {
	Index int
	Name  string
	Dir   string
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("#%d %s", u.Index, u.Name)
}

type Status int

const (
	Succeeded Status = iota
	Failed
	// Filtered units ran cleanly but the tool decided there was nothing to report.
	Filtered
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Filtered:
		return "Filtered"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// UnitResult is the isolated outcome of one unit.
type UnitResult struct {
	Unit   WorkUnit
	Status Status
	// Artifact is the copy in the results directory, set on success.
	Artifact string
	Rows     []string
	// Message explains a Failed or Filtered unit.
	Message string
}

// Filter is a sentinel file a tool leaves in the unit directory.
// When Message is empty the sentinel's own content is the message, otherwise
// Message is formatted with the unit name.
type Filter struct {
	Sentinel string
	Message  string
	// Failure marks the unit Failed instead of Filtered.
	Failure bool
}

// DefaultMissingMessage is formatted with the artifact and the unit name.
const DefaultMissingMessage = "No %s found for %s. No results were generated."

// Pool runs units through Tool, at most Cores at a time.
type Pool struct {
	Cores int
	Tool  ToolRunner
	// Commands builds the invocations of a unit, run in order.
	Commands func(u WorkUnit) ([]exec.Command, error)
	// Filters are checked in order after the tool exits, before its exit status.
	Filters []Filter
	// Artifact is the expected output, relative to the unit directory. Empty means
	// the unit directory itself is the result and nothing is copied.
	Artifact string
	// Extras are further outputs copied alongside Artifact when present.
	Extras []string
	// KeepNames copies artifacts under their own name instead of <unit>_<name>.
	KeepNames bool
	// MissingMessage overrides DefaultMissingMessage.
	MissingMessage string
	// Rows extracts summary rows from a copied artifact. nil yields no rows.
	Rows       func(path string) ([]string, error)
	ResultsDir string
	// Log receives progress lines, normally the job log.
	Log  func(msg string)
	Stat stats.StatsReceiver
}

func (p *Pool) log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if p.Log != nil {
		p.Log(msg)
		return
	}
	log.Info(msg)
}

// Run executes every unit and returns once all have finished. It never fails:
// every problem is recorded against the unit it belongs to.
func (p *Pool) Run(ctx context.Context, units []WorkUnit) *JobOutcome {
	if p.Stat == nil {
		p.Stat = stats.DefaultStatsReceiver()
	}
	cores := p.Cores
	if cores < 1 {
		cores = 1
	}
	outcome := &JobOutcome{Results: make([]UnitResult, len(units)), errors: NewErrorCollector()}

	var g errgroup.Group
	g.SetLimit(cores)
	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			outcome.Results[i] = p.runUnit(ctx, u, outcome.errors)
			return nil
		})
	}
	_ = g.Wait()

	p.log("Finished %d units: %d succeeded, %d failed or filtered", len(units),
		outcome.Count(Succeeded), len(units)-outcome.Count(Succeeded))
	return outcome
}

func (p *Pool) runUnit(ctx context.Context, u WorkUnit, collector *ErrorCollector) (r UnitResult) {
	defer p.Stat.Latency(stats.WorkerUnitLatency_ms).Time().Stop()
	r.Unit = u
	defer func() {
		switch r.Status {
		case Succeeded:
			p.Stat.Counter(stats.WorkerUnitSuccessCounter).Inc(1)
		default:
			p.Stat.Counter(stats.WorkerUnitFailureCounter).Inc(1)
			collector.Add(u.Index, r.Message, nil)
		}
	}()
	// Runs before the recording above, so a panicking callback fails only this unit.
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("unit %s panicked: %v", u, rec)
			r = UnitResult{Unit: u, Status: Failed, Message: fmt.Sprintf("Failed to process lib#%s:\npanic: %v", u.Name, rec)}
		}
	}()
	fail := func(err error) UnitResult {
		r.Status = Failed
		r.Message = fmt.Sprintf("Failed to process lib#%s:\n%v", u.Name, err)
		return r
	}

	p.log("Initializing job %s at [%s]", u, time.Now().UTC().Format(time.RFC1123Z))
	dir, err := temp.Open(u.Dir)
	if err != nil {
		return fail(err)
	}
	unitLog, err := os.OpenFile(dir.Path(UnitLogName), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fail(err)
	}
	defer unitLog.Close()

	cmds, err := p.Commands(u)
	if err != nil {
		return fail(err)
	}
	var toolErr error
	for _, cmd := range cmds {
		p.log("Running command for %s: %s\nExec Location: %s", u, cmd, cmd.Dir)
		if toolErr = p.Tool.Run(ctx, cmd, unitLog); toolErr != nil {
			break
		}
	}

	for _, f := range p.Filters {
		if r, ok := p.checkFilter(u, dir, f); ok {
			return r
		}
	}
	if toolErr != nil {
		return fail(toolErr)
	}

	if p.Artifact == "" {
		r.Status = Succeeded
		return r
	}
	artifact := dir.Path(p.Artifact)
	if _, err := os.Stat(artifact); err != nil {
		msg := p.MissingMessage
		if msg == "" {
			msg = DefaultMissingMessage
		}
		r.Status = Failed
		r.Message = fmt.Sprintf(msg, p.Artifact, u.Name)
		return r
	}
	if r.Artifact, err = p.collect(u, artifact); err != nil {
		return fail(err)
	}
	for _, extra := range p.Extras {
		if _, err := os.Stat(dir.Path(extra)); err == nil {
			if _, err := p.collect(u, dir.Path(extra)); err != nil {
				return fail(err)
			}
		}
	}
	if p.Rows != nil {
		if r.Rows, err = p.Rows(r.Artifact); err != nil {
			return fail(errors.Wrapf(err, "reading %s", r.Artifact))
		}
	}
	r.Status = Succeeded
	return r
}

func (p *Pool) checkFilter(u WorkUnit, dir *temp.TempDir, f Filter) (UnitResult, bool) {
	path := dir.Path(f.Sentinel)
	if _, err := os.Stat(path); err != nil {
		return UnitResult{}, false
	}
	r := UnitResult{Unit: u, Status: Filtered}
	if f.Failure {
		r.Status = Failed
	}
	if f.Message != "" {
		r.Message = fmt.Sprintf(f.Message, u.Name)
	} else if b, err := os.ReadFile(path); err == nil {
		r.Message = strings.TrimSpace(string(b))
	} else {
		r.Message = fmt.Sprintf("Failed to read %s for %s.", f.Sentinel, u.Name)
	}
	return r, true
}

// collect copies src into the results directory as <unit>_<base>.
func (p *Pool) collect(u WorkUnit, src string) (string, error) {
	name := u.Name + "_" + filepath.Base(src)
	if p.KeepNames {
		name = filepath.Base(src)
	}
	dst := filepath.Join(p.ResultsDir, name)
	if err := os.MkdirAll(p.ResultsDir, 0755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", errors.Wrapf(err, "copying %s", src)
	}
	return dst, out.Close()
}

// JobOutcome holds the result of every unit in unit order.
type JobOutcome struct {
	Results []UnitResult
	errors  *ErrorCollector
}

func (o *JobOutcome) Count(s Status) int {
	n := 0
	for _, r := range o.Results {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Errors aggregates every failed or filtered unit, or nil.
func (o *JobOutcome) Errors() error {
	return o.errors.Err()
}

// Summary is header, then the rows of every successful unit, then one line per
// failed or filtered unit, all in unit order.
func (o *JobOutcome) Summary(header string) string {
	lines := []string{}
	if header != "" {
		lines = append(lines, header)
	}
	for _, r := range o.Results {
		if r.Status == Succeeded {
			lines = append(lines, r.Rows...)
		}
	}
	lines = append(lines, o.errors.Lines()...)
	return strings.Join(lines, "\n") + "\n"
}

// WriteSummary writes Summary(header) to path.
func (o *JobOutcome) WriteSummary(path, header string) error {
	return errors.Wrap(os.WriteFile(path, []byte(o.Summary(header)), 0644), "writing summary")
}

// SkipHeader reads a CSV-like artifact and returns every non-empty line after the first.
func SkipHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []string
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for first := true; s.Scan(); first = false {
		if first || strings.TrimSpace(s.Text()) == "" {
			continue
		}
		rows = append(rows, s.Text())
	}
	return rows, s.Err()
}
