package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/************************* Scheduler metrics **************************/
	/*
		number of job summaries returned by the job store, scoped by job type
	*/
	SchedJobsListedCounter = "jobsListedCounter"

	/*
		number of times listing a job type failed
	*/
	SchedListFailureCounter = "listFailureCounter"

	/*
		number of workers submitted to the cluster (or run in dev mode)
	*/
	SchedDispatchedCounter = "dispatchedCounter"

	/*
		number of stale jobs cancelled
	*/
	SchedStaleCounter = "staleCounter"

	/*
		number of cluster submissions or worker spawns that failed
	*/
	SchedSubmitFailureCounter = "submitFailureCounter"

	/*
		number of pending patches that failed after a successful dispatch
	*/
	SchedPatchFailureCounter = "patchFailureCounter"

	/*
		ticks that exited early because another scheduler held the lock
	*/
	SchedLockBusyCounter = "lockBusyCounter"

	/*
		ticks that reclaimed a stale lock
	*/
	SchedLockReclaimedCounter = "lockReclaimedCounter"

	/*
		wall time of one scheduler tick
	*/
	SchedTickLatency_ms = "tickLatency_ms"

	/************************* Worker metrics **************************/
	/*
		number of work units that produced an artifact
	*/
	WorkerUnitSuccessCounter = "unitSuccessCounter"

	/*
		number of work units that failed or were filtered
	*/
	WorkerUnitFailureCounter = "unitFailureCounter"

	/*
		wall time of a single work unit
	*/
	WorkerUnitLatency_ms = "unitLatency_ms"

	/*
		wall time of the whole job run
	*/
	WorkerJobLatency_ms = "jobLatency_ms"

	/*
		number of jobs that ended through the error reporting path
	*/
	WorkerJobFailureCounter = "jobFailureCounter"
)
