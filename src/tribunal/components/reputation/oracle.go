package reputation

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrUnknownSource = errors.New("source not registered")
	ErrBadScore      = errors.New("score out of range")
	ErrStale         = errors.New("no fresh report for subject")
)

const maxScore = 10000

type report struct {
	score uint32
	at    time.Time
}

// Oracle aggregates normalized 0-10000 reputation scores from several
// weighted sources. Confidence falls as the sources disagree; reports older
// than the staleness TTL are ignored.
type Oracle struct {
	mu      sync.RWMutex
	weights map[string]uint32 // source -> weight bps
	reports map[string]map[string]report
	ttl     time.Duration
}

func NewOracle(ttl time.Duration) *Oracle {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Oracle{
		weights: make(map[string]uint32),
		reports: make(map[string]map[string]report),
		ttl:     ttl,
	}
}

// AddSource registers a source with its aggregation weight in basis points.
func (o *Oracle) AddSource(name string, weightBps uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.weights[name] = weightBps
}

// Report records one source's score for a subject.
func (o *Oracle) Report(source, subject string, score uint32) error {
	if score > maxScore {
		return ErrBadScore
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.weights[source]; !ok {
		return ErrUnknownSource
	}
	if o.reports[subject] == nil {
		o.reports[subject] = make(map[string]report)
	}
	o.reports[subject][source] = report{score: score, at: time.Now()}
	return nil
}

// Score returns the weighted aggregate for a subject plus a confidence
// value derived from how much the fresh sources disagree.
func (o *Oracle) Score(subject string) (score, confidence uint32, err error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := time.Now().Add(-o.ttl)
	var weightSum, weightedSum uint64
	fresh := make(map[string]uint32)

	for source, rep := range o.reports[subject] {
		if rep.at.Before(cutoff) {
			continue
		}
		w := uint64(o.weights[source])
		if w == 0 {
			continue
		}
		fresh[source] = rep.score
		weightSum += w
		weightedSum += w * uint64(rep.score)
	}
	if weightSum == 0 {
		return 0, 0, ErrStale
	}

	mean := weightedSum / weightSum

	// confidence = 10000 minus the weighted mean absolute deviation
	var devSum uint64
	for source, s := range fresh {
		w := uint64(o.weights[source])
		d := uint64(s) - mean
		if uint64(s) < mean {
			d = mean - uint64(s)
		}
		devSum += w * d
	}
	deviation := devSum / weightSum
	if deviation > maxScore {
		deviation = maxScore
	}
	return uint32(mean), uint32(maxScore - deviation), nil
}
