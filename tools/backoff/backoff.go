package backoff

import (
	"sort"
	"time"
)

// Tier applies Delay to every attempt >= FromAttempt until the next tier.
type Tier struct {
	FromAttempt int           `yaml:"from_attempt"`
	Delay       time.Duration `yaml:"delay"`
}

// Policy is a stepped (not exponential) reconnect schedule.
type Policy struct {
	Tiers       []Tier `yaml:"tiers"`
	MaxAttempts int    `yaml:"max_attempts"` // <=0 retries forever
}

func Default() Policy {
	return Policy{
		Tiers: []Tier{
			{FromAttempt: 0, Delay: 1 * time.Second},
			{FromAttempt: 1, Delay: 2 * time.Second},
			{FromAttempt: 5, Delay: 5 * time.Second},
			{FromAttempt: 10, Delay: 10 * time.Second},
		},
		MaxAttempts: 50,
	}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	tiers := p.sorted()
	if len(tiers) == 0 {
		return 0
	}
	d := tiers[0].Delay
	for _, t := range tiers {
		if attempt < t.FromAttempt {
			break
		}
		d = t.Delay
	}
	return d
}

func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

func (p Policy) sorted() []Tier {
	if sort.SliceIsSorted(p.Tiers, func(i, j int) bool { return p.Tiers[i].FromAttempt < p.Tiers[j].FromAttempt }) {
		return p.Tiers
	}
	out := append([]Tier(nil), p.Tiers...)
	sort.Slice(out, func(i, j int) bool { return out[i].FromAttempt < out[j].FromAttempt })
	return out
}
