// Package audiostore keeps synthesized clips addressable by id so clients can
// fetch them through the audio URL carried in a response frame.
package audiostore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("audio clip not found")

// Clip is a playable audio payload.
type Clip struct {
	ContentType string
	Data        []byte
}

type Store interface {
	Put(ctx context.Context, clip Clip) (string, error)
	Get(ctx context.Context, id string) (Clip, error)
}
