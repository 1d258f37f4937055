// Package identity derives the origin id an engine process stamps on the
// events it emits.
package identity

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Origin identifies one engine process. The id is stable for the life of
// the process, so every event an instance emits carries the same origin.
type Origin struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// NewOrigin builds the process origin from the hostname and a fresh random
// suffix.
func NewOrigin() Origin {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return Origin{
		ID:        fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		Hostname:  host,
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}
}

func (o Origin) String() string {
	return o.ID
}
