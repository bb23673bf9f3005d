package permission

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// RepeatThreshold is the number of identical consecutive calls treated as a
// runaway loop.
const RepeatThreshold = 3

const repeatHistory = 10

// RepeatDetector tracks the recent tool calls of each conversation and
// reports when the model keeps issuing the same call.
type RepeatDetector struct {
	mu        sync.Mutex
	threshold int
	history   map[string][]string // convID -> last call hashes
}

// NewRepeatDetector creates a detector; threshold <= 1 uses RepeatThreshold.
func NewRepeatDetector(threshold int) *RepeatDetector {
	if threshold <= 1 {
		threshold = RepeatThreshold
	}
	return &RepeatDetector{
		threshold: threshold,
		history:   make(map[string][]string),
	}
}

// Check records a call and reports whether it is the threshold-th identical
// call in a row. Arguments are compared after JSON compaction, so
// whitespace differences do not hide a repeat.
func (d *RepeatDetector) Check(convID, toolName, arguments string) bool {
	hash := hashCall(toolName, arguments)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := append(d.history[convID], hash)
	if len(history) > repeatHistory {
		history = history[len(history)-repeatHistory:]
	}
	d.history[convID] = history

	if len(history) < d.threshold {
		return false
	}
	for _, h := range history[len(history)-d.threshold:] {
		if h != hash {
			return false
		}
	}
	return true
}

// Clear forgets the history of a conversation. Sessions call it at the
// start of every turn.
func (d *RepeatDetector) Clear(convID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, convID)
}

func hashCall(toolName, arguments string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(arguments)); err != nil {
		buf.Reset()
		buf.WriteString(arguments)
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	h.Write(buf.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}
