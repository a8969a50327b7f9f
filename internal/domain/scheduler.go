package domain

// Scheduler is the timer subsystem: it decides when a job is ready and
// hands a Task for it to the ready queue. It never runs tasks itself.
type Scheduler interface {
	Start()
	Stop()

	AddJob(job *Job) error
	RemoveJob(name string) error
	// Trigger enqueues a task for job immediately, outside its schedule.
	Trigger(job *Job) error
	// Jobs returns the names of the scheduled jobs, sorted.
	Jobs() []string
}
