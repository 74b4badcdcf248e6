package runner

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrorCollector gathers unit failures from concurrent units. Lines come back in
// unit order regardless of completion order.
type ErrorCollector struct {
	mu    sync.Mutex
	lines map[int]string
	err   *multierror.Error
}

func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{lines: map[int]string{}}
}

// Add records the failure of unit index. msg is the line shown to the submitter,
// err (may be nil) is kept for the operator.
func (c *ErrorCollector) Add(index int, msg string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[index] = msg
	if err == nil {
		err = errors.New(msg)
	}
	c.err = multierror.Append(c.err, err)
}

func (c *ErrorCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Lines returns the recorded messages ordered by unit index.
func (c *ErrorCollector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := make([]int, 0, len(c.lines))
	for i := range c.lines {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.lines[i])
	}
	return out
}

// Err is every recorded error, or nil.
func (c *ErrorCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err.ErrorOrNil()
}
