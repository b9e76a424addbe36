package session

import (
	"errors"
	"sort"
)

var ErrIndexOutOfRange = errors.New("question index out of range")

// Navigator tracks the displayed question and the review flags. Flags are
// purely informational and never touch answers or scoring.
type Navigator struct {
	index   int
	count   int
	flagged map[int]struct{}
}

func NewNavigator(count int) *Navigator {
	return &Navigator{count: count, flagged: make(map[int]struct{})}
}

func (n *Navigator) Index() int {
	return n.index
}

func (n *Navigator) Count() int {
	return n.count
}

// Next advances one question; it is a no-op on the last one.
func (n *Navigator) Next() int {
	if n.index < n.count-1 {
		n.index++
	}
	return n.index
}

// Previous goes back one question; it is a no-op on the first one.
func (n *Navigator) Previous() int {
	if n.index > 0 {
		n.index--
	}
	return n.index
}

// Jump moves to any valid index, answered or not.
func (n *Navigator) Jump(i int) error {
	if i < 0 || i >= n.count {
		return ErrIndexOutOfRange
	}
	n.index = i
	return nil
}

// ToggleFlag flips the review flag on question i and reports the new value.
func (n *Navigator) ToggleFlag(i int) (bool, error) {
	if i < 0 || i >= n.count {
		return false, ErrIndexOutOfRange
	}
	if _, ok := n.flagged[i]; ok {
		delete(n.flagged, i)
		return false, nil
	}
	n.flagged[i] = struct{}{}
	return true, nil
}

func (n *Navigator) Flagged() []int {
	out := make([]int, 0, len(n.flagged))
	for i := range n.flagged {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Progress is (index+1)/count, or 0 for an empty paper.
func (n *Navigator) Progress() float64 {
	if n.count == 0 {
		return 0
	}
	return float64(n.index+1) / float64(n.count)
}
