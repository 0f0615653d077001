// Package audit seals committed events into tamper-evident envelopes for
// the event journal.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/google/uuid"
)

// Seal wraps payload into an envelope stamped with the transaction time.
// The sequence number is assigned by the journal on commit.
func Seal(payload events.Payload, at int64) (events.Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("marshal %s: %w", payload.EventName(), err)
	}
	env := events.Envelope{
		ID:      uuid.New().String(),
		Name:    payload.EventName(),
		Subject: payload.Subject(),
		At:      at,
		Payload: data,
	}
	env.Digest = digest(env)
	return env, nil
}

// Verify reports whether env's digest matches its contents.
func Verify(env events.Envelope) bool {
	return env.Digest == digest(env)
}

// digest covers everything but the sequence number, which is not known at
// sealing time.
func digest(env events.Envelope) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%d\n", env.ID, env.Name, env.Subject, env.At)
	h.Write(env.Payload)
	return hex.EncodeToString(h.Sum(nil))
}
