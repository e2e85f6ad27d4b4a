package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/harunnryd/tutur/pkg/redact"
)

type jsonlRecord struct {
	Time      time.Time         `json:"time"`
	Name      string            `json:"name"`
	SessionID string            `json:"session_id,omitempty"`
	Value     float64           `json:"value,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Fields    map[string]any    `json:"fields,omitempty"`
}

// JSONLObserver appends one JSON object per event to a shared events file.
// Write errors are counted, not returned, so a full disk never stalls a session.
type JSONLObserver struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	failed int64
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	o := &JSONLObserver{enc: json.NewEncoder(w)}
	if c, ok := w.(io.Closer); ok {
		o.closer = c
	}
	return o
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	rec := jsonlRecord{Time: ev.Time.UTC(), Name: ev.Name, Value: ev.Value, Fields: redact.Fields(ev.Fields)}
	if len(ev.Tags) > 0 {
		rec.Tags = make(map[string]string, len(ev.Tags))
		for k, v := range ev.Tags {
			if k == "session_id" {
				rec.SessionID = v
				continue
			}
			rec.Tags[k] = v
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.enc.Encode(rec); err != nil {
		o.failed++
	}
}

// Failed reports how many events could not be written.
func (o *JSONLObserver) Failed() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed
}

func (o *JSONLObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closer == nil {
		return nil
	}
	err := o.closer.Close()
	o.closer = nil
	o.enc = json.NewEncoder(io.Discard)
	return err
}
