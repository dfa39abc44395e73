// Package attendance wires the recognition pipeline together: probe image ->
// face service -> matcher -> ledger, with SSE and MQTT fan-out of the result.
package attendance

import (
	"context"
	"errors"
	"fmt"

	"face-attendance-go/internal/core/gallery"
	"face-attendance-go/internal/core/ledger"
	"face-attendance-go/internal/core/matcher"
	"face-attendance-go/internal/integrations/faceapi"
	"face-attendance-go/internal/integrations/mqtt"
	"face-attendance-go/internal/sse"
	"face-attendance-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// Outcome classifies a recognition attempt. NoFace (nothing detected in the
// probe) and NoMatch (face detected, matches nobody) are deliberately kept
// apart; the UI may merge them into one label, the API does not.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeNoFace  Outcome = "no_face"
)

// Result is the outcome of one recognition attempt.
type Result struct {
	Outcome  Outcome
	Name     string
	Distance float64
	Ledger   ledger.Outcome
}

// Service runs the recognition pipeline.
type Service struct {
	provider  faceapi.Provider
	gallery   *gallery.Store
	ledger    ledger.Ledger
	tolerance float64
	hub       *sse.Hub
	publisher *mqtt.Client
}

// NewService creates the pipeline. hub and publisher may be nil. Tolerance 0
// admits only exact matches; a negative value selects the default.
func NewService(provider faceapi.Provider, store *gallery.Store, l ledger.Ledger, tolerance float64, hub *sse.Hub, publisher *mqtt.Client) *Service {
	if tolerance < 0 {
		tolerance = matcher.DefaultTolerance
	}
	return &Service{
		provider:  provider,
		gallery:   store,
		ledger:    l,
		tolerance: tolerance,
		hub:       hub,
		publisher: publisher,
	}
}

// Recognize runs one probe image through the pipeline. A match records
// attendance (at most once per day); the ledger outcome is part of the
// result either way. The source payload is free-form capture metadata.
func (s *Service) Recognize(ctx context.Context, imageData []byte, source []byte) (*Result, error) {
	probe, err := s.provider.ExtractEmbedding(ctx, imageData)
	if err != nil {
		if errors.Is(err, faceapi.ErrNoFaceDetected) {
			return &Result{Outcome: OutcomeNoFace}, nil
		}
		return nil, fmt.Errorf("embedding extraction failed: %w", err)
	}

	match, ok := matcher.Match(probe, s.gallery.Snapshot(), s.tolerance)
	if !ok {
		log.Debug("Probe face matched no enrolled student")
		return &Result{Outcome: OutcomeNoMatch}, nil
	}

	now := timezone.Now()
	outcome, err := s.ledger.Record(match.Name, now, source)
	if err != nil {
		return nil, fmt.Errorf("failed to record attendance for %s: %w", match.Name, err)
	}

	result := &Result{
		Outcome:  OutcomeMatched,
		Name:     match.Name,
		Distance: match.Distance,
		Ledger:   outcome,
	}

	date := now.Format(ledger.DateLayout)
	if s.hub != nil {
		s.hub.BroadcastCheckin(sse.CheckinData{
			Name:      match.Name,
			Date:      date,
			Timestamp: now,
			Outcome:   outcome.String(),
		})
	}
	if s.publisher != nil {
		s.publisher.PublishAttendance(mqtt.AttendanceEvent{
			Name:      match.Name,
			Date:      date,
			Timestamp: now,
			Outcome:   outcome.String(),
			Distance:  match.Distance,
		})
	}

	log.WithFields(log.Fields{
		"name":     match.Name,
		"distance": match.Distance,
		"outcome":  outcome.String(),
	}).Info("Recognition completed")

	return result, nil
}

// Enroll extracts the reference embedding from the supplied image and adds
// the student to the gallery. Duplicate names are rejected
// (gallery.ErrDuplicateName); images without a detectable face fail with
// faceapi.ErrNoFaceDetected.
func (s *Service) Enroll(ctx context.Context, name string, imageData []byte) error {
	vec, err := s.provider.ExtractEmbedding(ctx, imageData)
	if err != nil {
		return err
	}
	return s.gallery.Enroll(name, vec)
}
