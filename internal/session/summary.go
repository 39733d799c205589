package session

import (
	"context"
	"math"

	"proctor-stream/internal/model"
)

const suspiciousWeight = 20

type Summary struct {
	TotalDuration        float64        `json:"totalDuration"`
	FaceDetectionRate    float64        `json:"faceDetectionRate"`
	SuspiciousActivities map[string]int `json:"suspiciousActivities"`
	OverallCompliance    float64        `json:"overallCompliance"`
	TotalEvents          int            `json:"totalEvents"`
}

// Summarize aggregates the stored events for userID, ignoring the stop
// marker. Duration is in minutes.
func (r *Registry) Summarize(ctx context.Context, userID string) (Summary, error) {
	records, err := r.logs.Query(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records)
}

func Summarize(records []model.LogRecord) (Summary, error) {
	sum := Summary{SuspiciousActivities: make(map[string]int)}

	var faces, suspicious int
	first, last := -1, -1
	for i, rec := range records {
		if rec.Kind == model.KindSessionStopped {
			continue
		}
		sum.TotalEvents++
		if first < 0 || rec.Timestamp.Before(records[first].Timestamp) {
			first = i
		}
		if last < 0 || rec.Timestamp.After(records[last].Timestamp) {
			last = i
		}
		if rec.Kind == model.KindFaceDetected {
			faces++
			continue
		}
		sum.SuspiciousActivities[rec.Kind]++
		suspicious++
	}
	if sum.TotalEvents == 0 {
		return Summary{}, ErrNoEvents
	}

	total := float64(sum.TotalEvents)
	rate := float64(faces) / total * 100
	compliance := math.Max(0, rate-float64(suspicious)/total*suspiciousWeight)

	sum.TotalDuration = round2(records[last].Timestamp.Sub(records[first].Timestamp).Minutes())
	sum.FaceDetectionRate = round2(rate)
	sum.OverallCompliance = round2(compliance)
	return sum, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
