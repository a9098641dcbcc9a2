package clusterc

import "strings"

const hashSlots = 16384

// SlotForKey returns the hash slot for the key, honoring {hash tags}
// so that callers can pin related keys to the same slot.
func SlotForKey(key string) Slot {
	if start := strings.Index(key, "{"); start >= 0 {
		if end := strings.Index(key[start+1:], "}"); end > 0 { // if end == 0, then it's {}, so we ignore it
			end += start + 1
			key = key[start+1 : end]
		}
	}
	return Slot(crc16(key) % hashSlots)
}
