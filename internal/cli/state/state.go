package state

import (
	"sort"
	"sync"
	"time"
)

// Job is a child started from the shell that has not been reaped yet.
type Job struct {
	Pid       int
	Command   string
	StartedAt time.Time
}

// Jobs tracks unreaped children. It is shared between the shell and the
// job_probe maintenance thread.
type Jobs struct {
	mu   sync.Mutex
	jobs map[int]Job
	now  func() time.Time
}

func NewJobs() *Jobs {
	return &Jobs{jobs: make(map[int]Job), now: time.Now}
}

func (j *Jobs) Add(pid int, command string) Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	job := Job{Pid: pid, Command: command, StartedAt: j.now()}
	j.jobs[pid] = job
	return job
}

// Remove drops pid and reports whether it was tracked.
func (j *Jobs) Remove(pid int) (Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[pid]
	if ok {
		delete(j.jobs, pid)
	}
	return job, ok
}

// List returns the tracked jobs ordered by pid.
func (j *Jobs) List() []Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Pid < out[b].Pid })
	return out
}

func (j *Jobs) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.jobs)
}
