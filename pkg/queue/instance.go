// Copyright Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides an ordered work queue that retries failed tasks
// with exponential backoff. The candidate hub uses it to deliver ICE
// candidates to client sessions without blocking the placement path.
package queue

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mediatree.io/mediatree/pkg/log"
)

var scope = log.RegisterScope("queue", "work queue")

// Task to be performed.
type Task func() error

type backoffTask struct {
	task    Task
	backoff *backoff.ExponentialBackOff
}

// Instance of work tickets processed using a rate-limiting loop
type Instance interface {
	// Push a task.
	Push(task Task)
	// Run the loop until a signal on the channel
	Run(<-chan struct{})
	// Len reports the number of tasks waiting to run, retries excluded.
	Len() int
}

type queueImpl struct {
	delay        time.Duration
	retryBackoff *backoff.ExponentialBackOff
	tasks        []*backoffTask
	cond         *sync.Cond
	closing      bool
}

func newExponentialBackOff(eb *backoff.ExponentialBackOff) *backoff.ExponentialBackOff {
	if eb == nil {
		return nil
	}
	teb := backoff.NewExponentialBackOff()
	teb.InitialInterval = eb.InitialInterval
	teb.MaxElapsedTime = eb.MaxElapsedTime
	teb.MaxInterval = eb.MaxInterval
	teb.Multiplier = eb.Multiplier
	teb.RandomizationFactor = eb.RandomizationFactor
	teb.Reset()
	return teb
}

// NewQueue instantiates a queue that retries failed tasks after a fixed delay, forever.
func NewQueue(errorDelay time.Duration) Instance {
	return &queueImpl{
		delay: errorDelay,
		tasks: make([]*backoffTask, 0),
		cond:  sync.NewCond(&sync.Mutex{}),
	}
}

// NewBackOffQueue instantiates a queue that retries failed tasks following eb.
// A task is dropped once eb.MaxElapsedTime has passed since its first failure.
func NewBackOffQueue(eb *backoff.ExponentialBackOff) Instance {
	return &queueImpl{
		retryBackoff: eb,
		tasks:        make([]*backoffTask, 0),
		cond:         sync.NewCond(&sync.Mutex{}),
	}
}

func (q *queueImpl) Push(item Task) {
	q.push(&backoffTask{item, newExponentialBackOff(q.retryBackoff)})
}

func (q *queueImpl) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.tasks)
}

func (q *queueImpl) push(item *backoffTask) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if !q.closing {
		q.tasks = append(q.tasks, item)
	}
	q.cond.Signal()
}

func (q *queueImpl) Run(stop <-chan struct{}) {
	go func() {
		<-stop
		q.cond.L.Lock()
		q.cond.Signal()
		q.closing = true
		q.cond.L.Unlock()
	}()

	for {
		q.cond.L.Lock()
		for !q.closing && len(q.tasks) == 0 {
			q.cond.Wait()
		}

		if q.closing {
			q.cond.L.Unlock()
			// We must be shutting down.
			return
		}

		t := q.tasks[0]
		// Slicing will not free the underlying elements of the array, so explicitly clear them out here
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]

		q.cond.L.Unlock()

		if err := t.task(); err != nil {
			delay := q.delay
			if t.backoff != nil {
				delay = t.backoff.NextBackOff()
				if delay == backoff.Stop {
					scope.Warnf("Work item failed (%v), giving up", err)
					continue
				}
			}
			scope.Infof("Work item handle failed (%v), retry after delay %v", err, delay)
			time.AfterFunc(delay, func() {
				q.push(t)
			})
		}
	}
}
