// Package detect runs the registered frame detectors and isolates their
// failures from each other and from the ingestion loop.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"proctor-stream/internal/frame"
	"proctor-stream/internal/metrics"
	"proctor-stream/internal/model"
)

// Detector inspects one frame and reports zero or more events.
type Detector interface {
	Name() string
	Detect(ctx context.Context, f *frame.Frame) ([]model.Event, error)
}

// Func adapts a plain function to Detector.
type Func struct {
	DetectorName string
	Fn           func(ctx context.Context, f *frame.Frame) ([]model.Event, error)
}

func (d Func) Name() string { return d.DetectorName }

func (d Func) Detect(ctx context.Context, f *frame.Frame) ([]model.Event, error) {
	return d.Fn(ctx, f)
}

type Orchestrator struct {
	mu        sync.RWMutex
	detectors []Detector
	log       *zap.Logger
}

func NewOrchestrator(log *zap.Logger, detectors ...Detector) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	o := &Orchestrator{log: log}
	for _, d := range detectors {
		o.Register(d)
	}
	return o
}

// Register appends d; detectors run in registration order.
func (o *Orchestrator) Register(d Detector) {
	if d == nil {
		return
	}
	o.mu.Lock()
	o.detectors = append(o.detectors, d)
	o.mu.Unlock()
}

func (o *Orchestrator) Names() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, len(o.detectors))
	for i, d := range o.detectors {
		names[i] = d.Name()
	}
	return names
}

// Run invokes every detector against f and concatenates their events. A
// failing detector contributes nothing; Run itself never fails.
func (o *Orchestrator) Run(ctx context.Context, f *frame.Frame) (events []model.Event) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("detection orchestration failed", zap.Any("panic", r))
			events = nil
		}
	}()
	if f == nil {
		return nil
	}

	o.mu.RLock()
	detectors := append([]Detector(nil), o.detectors...)
	o.mu.RUnlock()

	start := time.Now()
	for _, d := range detectors {
		out, err := o.runOne(ctx, d, f)
		if err != nil {
			metrics.DetectorFaults.WithLabelValues(d.Name()).Inc()
			o.log.Warn("detector failed", zap.String("detector", d.Name()), zap.Error(err))
			continue
		}
		for _, ev := range out {
			events = append(events, normalize(ev, f.ReceivedAt))
		}
	}
	metrics.DetectionDuration.Observe(time.Since(start).Seconds())
	metrics.EventsDetected.Add(float64(len(events)))
	return events
}

func (o *Orchestrator) runOne(ctx context.Context, d Detector, f *frame.Frame) (out []model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.Detect(ctx, f)
}

func normalize(ev model.Event, fallback time.Time) model.Event {
	if ev.Kind == "" {
		ev.Kind = model.KindFromDetail(ev.Detail)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = fallback
	}
	return ev
}
