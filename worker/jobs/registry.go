package jobs

import (
	"context"
	"fmt"

	"github.com/primerid/hpcqueue/scheduler/domain"
	"github.com/primerid/hpcqueue/worker/pipeline"
)

// Job runs one job of a fixed type to completion.
type Job func(ctx context.Context, opts Options, deps pipeline.Deps, env Env) error

func bind[T pipeline.JobDetail](d Descriptor[T]) Job {
	return func(ctx context.Context, opts Options, deps pipeline.Deps, env Env) error {
		return Execute(ctx, d, opts, deps, env)
	}
}

var registry = map[domain.JobType]Job{
	domain.OGV:        bind(OGV),
	domain.Intactness: bind(Intactness),
	domain.TCSDR:      bind(TCSDR),
	domain.Coreceptor: bind(Coreceptor),
	domain.Splicing:   bind(Splicing),
}

// For returns the job of a type.
func For(t domain.JobType) (Job, error) {
	j, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("no worker for job type %q", t)
	}
	return j, nil
}
