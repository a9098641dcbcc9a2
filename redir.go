package clusterc

import (
	"strconv"
	"strings"
)

// RedirError is a redirection reply from a cluster node, a MOVED or an
// ASK, telling the client which node currently serves a slot.
type RedirError struct {
	// Type indicates the redirection type, "MOVED" or "ASK".
	Type string
	// NewSlot is the slot the redirection applies to.
	NewSlot Slot
	// Addr is the "address:port" of the node owning the slot.
	Addr string

	raw string
}

func (e *RedirError) Error() string {
	return e.raw
}

// ParseRedir returns the redirection error that err encodes, or nil if
// err is not a redirection ("MOVED <slot> <addr>" or
// "ASK <slot> <addr>").
func ParseRedir(err error) *RedirError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "MOVED ") && !strings.HasPrefix(msg, "ASK ") {
		return nil
	}
	parts := strings.Fields(msg)
	if len(parts) != 3 {
		return nil
	}
	slot, perr := strconv.Atoi(parts[1])
	if perr != nil || slot < 0 || slot >= hashSlots {
		return nil
	}
	return &RedirError{
		Type:    parts[0],
		NewSlot: Slot(slot),
		Addr:    parts[2],
		raw:     msg,
	}
}

// IsTryAgain returns true if the error is a cluster TRYAGAIN reply,
// sent when a multi-key operation hits a slot being migrated.
func IsTryAgain(err error) bool {
	return hasErrPrefix(err, "TRYAGAIN")
}

// IsCrossSlot returns true if the error is a cluster CROSSSLOT reply,
// sent when a multi-key operation spans more than one slot.
func IsCrossSlot(err error) bool {
	return hasErrPrefix(err, "CROSSSLOT")
}

func hasErrPrefix(err error, prefix string) bool {
	if err == nil {
		return false
	}
	return strings.HasPrefix(err.Error(), prefix)
}

// Redirector is implemented by topologies that can apply a MOVED
// redirection hint directly, ahead of a full renewal. The Connection
// feeds observed MOVED replies to it so the slot mapping stays warm
// even when the renewal loses its guard race.
type Redirector interface {
	Redirect(re *RedirError)
}
