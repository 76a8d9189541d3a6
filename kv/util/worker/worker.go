package worker

import (
	"sync"

	"github.com/ngaut/log"
)

type TaskStop struct{}

type Task interface{}

// Worker runs tasks one at a time on its own goroutine, in the order they were scheduled.
type Worker struct {
	name     string
	tasks    chan Task
	stopped  chan struct{}
	stopOnce sync.Once
}

type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to run something on the worker goroutine before the first task.
type Starter interface {
	Start()
}

const defaultWorkerCapacity = 128

// NewWorker creates a worker whose queue holds capacity tasks. A non-positive capacity picks the default.
func NewWorker(name string, capacity int) *Worker {
	if capacity <= 0 {
		capacity = defaultWorkerCapacity
	}
	return &Worker{
		name:    name,
		tasks:   make(chan Task, capacity),
		stopped: make(chan struct{}),
	}
}

func (w *Worker) Start(handler TaskHandler) {
	go func() {
		defer close(w.stopped)
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debugf("worker %s started", w.name)
		for task := range w.tasks {
			if _, ok := task.(TaskStop); ok {
				log.Debugf("worker %s stopped", w.name)
				return
			}
			handler.Handle(task)
		}
	}()
}

// Schedule queues a task. It blocks while the queue is full. Tasks scheduled after Stop are never run.
func (w *Worker) Schedule(t Task) {
	select {
	case <-w.stopped:
		log.Warnf("worker %s is stopped, drop task %T", w.name, t)
	case w.tasks <- t:
	}
}

// Stop lets the worker finish the tasks already queued and waits for it to exit. The worker must have been started.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.tasks <- TaskStop{}
	})
	<-w.stopped
}
