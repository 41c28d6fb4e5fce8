package backoff

import "time"

type Quality string

const (
	QualityGood     Quality = "good"
	QualityPoor     Quality = "poor"
	QualityCritical Quality = "critical"
)

// Thresholds grade a channel by how long it has been silent.
type Thresholds struct {
	PoorAfter     time.Duration `yaml:"poor_after"`
	CriticalAfter time.Duration `yaml:"critical_after"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{PoorAfter: 60 * time.Second, CriticalAfter: 180 * time.Second}
}

func (t Thresholds) Classify(staleness time.Duration) Quality {
	switch {
	case t.CriticalAfter > 0 && staleness >= t.CriticalAfter:
		return QualityCritical
	case t.PoorAfter > 0 && staleness >= t.PoorAfter:
		return QualityPoor
	default:
		return QualityGood
	}
}
