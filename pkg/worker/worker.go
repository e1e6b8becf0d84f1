package worker

import (
	"sync"

	"github.com/careroute/referral-engine/pkg/logger"
)

type WorkerHandler = func(workerIndex int, job interface{})

// Pool fans a finite batch of jobs out over a fixed number of goroutines and
// waits for all of them. Batch jobs here are I/O bound gateway calls, so the
// pool size bounds in-flight requests rather than CPU use.
type Pool struct {
	numberOfWorker int
	do             WorkerHandler
}

func NewPool(numberOfWorkers int, handler WorkerHandler) *Pool {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &Pool{
		numberOfWorker: numberOfWorkers,
		do:             handler,
	}
}

func (p *Pool) SetWorker(handler WorkerHandler) {
	p.do = handler
}

// Run blocks until every job has been handled. Panics inside a handler are
// contained so one poisoned job cannot take the whole batch down.
func (p *Pool) Run(jobs []interface{}) {
	if len(jobs) == 0 || p.do == nil {
		return
	}

	jobChannel := make(chan interface{}, len(jobs))
	for _, j := range jobs {
		jobChannel <- j
	}
	close(jobChannel)

	workers := p.numberOfWorker
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(index int) {
			defer wg.Done()
			for job := range jobChannel {
				p.runOne(index, job)
			}
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runOne(index int, job interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic recovered", "worker", index, "error", r)
		}
	}()
	p.do(index, job)
}
