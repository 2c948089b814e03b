package scenario

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/wtyler2505/roverhal/model"
)

// Recording is a captured event stream, serialised as CBOR.
type Recording struct {
	ID        string            `cbor:"1,keyasint"`
	StartedAt time.Time         `cbor:"2,keyasint"`
	EndedAt   time.Time         `cbor:"3,keyasint"`
	Metadata  map[string]string `cbor:"4,keyasint,omitempty"`
	Events    []model.Event     `cbor:"5,keyasint"`
}

// Recorder captures engine events with their wall-clock timestamps.
type Recorder struct {
	mu  sync.Mutex
	rec Recording
	fin bool
}

// NewRecorder starts a recording now.
func NewRecorder(id string, metadata map[string]string) *Recorder {
	return &Recorder{rec: Recording{
		ID:        id,
		StartedAt: time.Now().UTC(),
		Metadata:  metadata,
	}}
}

// Append captures one event. Appends after Finish are dropped.
func (r *Recorder) Append(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fin {
		return
	}
	r.rec.Events = append(r.rec.Events, ev)
}

// Len reports the number of captured events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rec.Events)
}

// Finish closes the recording and returns it.
func (r *Recorder) Finish() *Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.fin {
		r.fin = true
		r.rec.EndedAt = time.Now().UTC()
	}
	out := r.rec
	out.Events = append([]model.Event(nil), r.rec.Events...)
	return &out
}

// WriteTo encodes the finished recording to w.
func (r *Recording) WriteTo(w io.Writer) error {
	enc := cbor.NewEncoder(w)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode recording: %w", err)
	}
	return nil
}

// ReadRecording decodes a recording from r.
func ReadRecording(r io.Reader) (*Recording, error) {
	var rec Recording
	dec := cbor.NewDecoder(r)
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode recording: %w", err)
	}
	return &rec, nil
}

// Replay feeds the recorded events to fn, preserving the relative spacing
// between consecutive events scaled by speed (2.0 plays twice as fast).
// Non-positive speed replays with no delay at all.
func (r *Recording) Replay(ctx context.Context, speed float64, fn func(model.Event)) error {
	if fn == nil {
		return fmt.Errorf("replay: nil event func")
	}
	for i, ev := range r.Events {
		if i > 0 && speed > 0 {
			gap := ev.Timestamp.Sub(r.Events[i-1].Timestamp)
			if gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(ev)
	}
	return nil
}
