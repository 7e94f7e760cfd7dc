// Package alert decides when low health scores should raise an alert
package alert

import (
	"log/slog"
	"sync"
	"time"
)

// Alert describes a raised alert.
type Alert struct {
	MachineID string    `json:"machine_id"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	Windows   int       `json:"windows"`
	At        time.Time `json:"at"`
}

// Detector raises an alert after a run of consecutive scores below the
// threshold, then stays quiet for the cooldown. State is per machine.
type Detector struct {
	mu          sync.Mutex
	enabled     bool
	threshold   float64
	cooldown    time.Duration
	consecutive int
	low         map[string]int
	lastTime    map[string]time.Time
	now         func() time.Time
}

// NewDetector creates an alert detector.
func NewDetector(threshold float64, cooldown time.Duration, consecutive int, enabled bool) *Detector {
	if consecutive < 1 {
		consecutive = 1
	}
	return &Detector{
		enabled:     enabled,
		threshold:   threshold,
		cooldown:    cooldown,
		consecutive: consecutive,
		low:         make(map[string]int),
		lastTime:    make(map[string]time.Time),
		now:         time.Now,
	}
}

// Check records score for machineID and returns the alert to raise, if any.
func (d *Detector) Check(machineID string, score float64) (Alert, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled {
		return Alert{}, false
	}
	if score >= d.threshold {
		d.low[machineID] = 0
		return Alert{}, false
	}
	d.low[machineID]++
	run := d.low[machineID]
	if run < d.consecutive {
		return Alert{}, false
	}

	now := d.now()
	if last, ok := d.lastTime[machineID]; ok && now.Sub(last) < d.cooldown {
		return Alert{}, false
	}
	d.lastTime[machineID] = now

	slog.Warn("machine health alert", "machine", machineID, "score", score, "threshold", d.threshold, "windows", run)
	return Alert{MachineID: machineID, Score: score, Threshold: d.threshold, Windows: run, At: now}, true
}

// Reset forgets the run and cooldown state of machineID.
func (d *Detector) Reset(machineID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.low, machineID)
	delete(d.lastTime, machineID)
}

// SetEnabled enables/disables alerting
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
	slog.Info("alerting state changed", "enabled", enabled)
}

// IsEnabled returns current enabled state
func (d *Detector) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Threshold returns the alert threshold.
func (d *Detector) Threshold() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}
