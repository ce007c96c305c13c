// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random portion of an ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 8

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// NewBatchID returns a batch id of the form "batch_<yyyymmdd>_<random>".
// The date component is informational; uniqueness comes from the random tail.
func NewBatchID(day time.Time) (string, error) {
	return GenerateWithPrefix("batch_" + day.UTC().Format("20060102") + "_")
}

// NewEventID returns an event id of the form "evt_<random>".
func NewEventID() (string, error) {
	return GenerateWithPrefix("evt_")
}
