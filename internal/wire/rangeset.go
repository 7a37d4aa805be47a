package wire

import "fmt"

// IntRange is an inclusive run of message ids.
type IntRange struct {
	Min int
	Max int
}

func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

func (r IntRange) String() string {
	return fmt.Sprintf("[%d..%d]", r.Min, r.Max)
}

// RangeSet is an ordered set of integers kept as coalesced inclusive
// ranges, the compact representation of the writer's received-ack set.
// Ranges never wrap: ids on either side of the 16-bit boundary form two
// runs.
type RangeSet struct {
	ranges []IntRange
}

// Add inserts v, merging with adjacent runs.
func (s *RangeSet) Add(v int) {
	for i, r := range s.ranges {
		if r.Contains(v) {
			return
		}
		if v == r.Min-1 {
			s.ranges[i].Min = v
			s.mergeLeft(i)
			return
		}
		if v == r.Max+1 {
			s.ranges[i].Max = v
			s.mergeRight(i)
			return
		}
		if v < r.Min {
			s.ranges = append(s.ranges, IntRange{})
			copy(s.ranges[i+1:], s.ranges[i:])
			s.ranges[i] = IntRange{Min: v, Max: v}
			return
		}
	}
	s.ranges = append(s.ranges, IntRange{Min: v, Max: v})
}

func (s *RangeSet) mergeLeft(i int) {
	if i == 0 {
		return
	}
	if s.ranges[i-1].Max+1 >= s.ranges[i].Min {
		s.ranges[i-1].Max = s.ranges[i].Max
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
	}
}

func (s *RangeSet) mergeRight(i int) {
	if i+1 >= len(s.ranges) {
		return
	}
	if s.ranges[i].Max+1 >= s.ranges[i+1].Min {
		s.ranges[i].Max = s.ranges[i+1].Max
		s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
	}
}

// Remove deletes v, splitting a run when it falls inside one.
func (s *RangeSet) Remove(v int) {
	for i, r := range s.ranges {
		if !r.Contains(v) {
			continue
		}
		switch {
		case r.Min == r.Max:
			s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
		case v == r.Min:
			s.ranges[i].Min = v + 1
		case v == r.Max:
			s.ranges[i].Max = v - 1
		default:
			s.ranges = append(s.ranges, IntRange{})
			copy(s.ranges[i+2:], s.ranges[i+1:])
			s.ranges[i] = IntRange{Min: r.Min, Max: v - 1}
			s.ranges[i+1] = IntRange{Min: v + 1, Max: r.Max}
		}
		return
	}
}

func (s *RangeSet) Contains(v int) bool {
	for _, r := range s.ranges {
		if r.Contains(v) {
			return true
		}
	}
	return false
}

// Count is the total number of ids in the set.
func (s *RangeSet) Count() int {
	n := 0
	for _, r := range s.ranges {
		n += r.Max - r.Min + 1
	}
	return n
}

// RangeCount is the number of runs, which bounds the encodable ack
// header.
func (s *RangeSet) RangeCount() int {
	return len(s.ranges)
}

// Ranges returns the runs in ascending order.  The slice is shared;
// callers must not mutate it.
func (s *RangeSet) Ranges() []IntRange {
	return s.ranges
}
