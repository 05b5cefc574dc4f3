package processors

import (
	"errors"
	"strconv"
	"strings"

	"github.com/randalmurphal/streamsync/pkg/streamsync"
)

// Attributes set by Statistics.
const (
	AttrStatsCount = "stats.count"
	AttrStatsMin   = "stats.min"
	AttrStatsMax   = "stats.max"
	AttrStatsMean  = "stats.mean"
	AttrStatsError = "stats.error"
)

var errNoValues = errors.New("no values")

// Statistics summarizes whitespace separated integers in the FlowFile content.
// The content passes through unchanged; stats.count, stats.min, stats.max,
// and stats.mean are added as attributes. Content that is empty or holds a
// non-integer token is routed to failure with a stats.error attribute.
type Statistics struct{}

// NewStatistics creates a Statistics processor.
func NewStatistics() streamsync.Processor {
	return Statistics{}
}

// Name implements streamsync.Processor.
func (Statistics) Name() string { return "Statistics" }

// Relationships implements streamsync.Declarer.
func (Statistics) Relationships() (inputs, outputs []streamsync.Relationship) {
	return []streamsync.Relationship{streamsync.RelIn},
		[]streamsync.Relationship{streamsync.RelSuccess, streamsync.RelFailure}
}

// OnTrigger implements streamsync.Processor.
func (Statistics) OnTrigger(_ streamsync.Context, s *streamsync.Session) error {
	ff, ok := s.Get(streamsync.RelIn)
	if !ok {
		return streamsync.ErrNoWork
	}

	sum, err := summarize(string(ff.Content()))
	if err != nil {
		return s.Transfer(ff.WithAttribute(AttrStatsError, err.Error()), streamsync.RelFailure)
	}
	return s.Transfer(ff.WithAttributes(map[string]string{
		AttrStatsCount: strconv.Itoa(sum.count),
		AttrStatsMin:   strconv.FormatInt(sum.min, 10),
		AttrStatsMax:   strconv.FormatInt(sum.max, 10),
		AttrStatsMean:  strconv.FormatFloat(sum.mean(), 'f', -1, 64),
	}), streamsync.RelSuccess)
}

type summary struct {
	count    int
	min, max int64
	total    int64
}

func (s summary) mean() float64 {
	return float64(s.total) / float64(s.count)
}

func summarize(text string) (summary, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return summary{}, errNoValues
	}
	var s summary
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return summary{}, err
		}
		if i == 0 || v < s.min {
			s.min = v
		}
		if i == 0 || v > s.max {
			s.max = v
		}
		s.total += v
		s.count++
	}
	return s, nil
}
