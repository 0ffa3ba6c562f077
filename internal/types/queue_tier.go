// SPDX-License-Identifier: MIT

package types

import "fmt"

// QueueTier selects which of the three broker queues a job is dispatched on.
//
// The tier is a derived property of the input file size; the client-supplied
// priority integer is only a secondary ordering key inside a tier.
type QueueTier string

const (
	QueueTierHigh   QueueTier = "high"
	QueueTierNormal QueueTier = "normal"
	QueueTierLow    QueueTier = "low"
)

// Tier boundaries in bytes. 1 MiB = 1048576.
const (
	MiB              = 1 << 20
	TierHighMaxBytes = 5 * MiB  // exclusive: exactly 5 MiB routes to NORMAL
	TierLowMinBytes  = 20 * MiB // exclusive: exactly 20 MiB routes to NORMAL
)

func (t QueueTier) String() string { return string(t) }

// IsValid reports whether the tier is one of the defined constants.
func (t QueueTier) IsValid() bool {
	switch t {
	case QueueTierHigh, QueueTierNormal, QueueTierLow:
		return true
	default:
		return false
	}
}

// ParseQueueTier parses a string into a QueueTier.
func ParseQueueTier(s string) (QueueTier, error) {
	t := QueueTier(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid queue tier: %q (valid: high, normal, low)", s)
	}
	return t, nil
}

// AllQueueTiers returns the tiers in dispatch order.
func AllQueueTiers() []QueueTier {
	return []QueueTier{QueueTierHigh, QueueTierNormal, QueueTierLow}
}

// TierForSize derives the queue tier from the input file size.
//
// Files under 5 MiB go HIGH, files over 20 MiB go LOW, everything in
// between (boundaries included) goes NORMAL.
func TierForSize(sizeBytes int64) QueueTier {
	switch {
	case sizeBytes < TierHighMaxBytes:
		return QueueTierHigh
	case sizeBytes > TierLowMinBytes:
		return QueueTierLow
	default:
		return QueueTierNormal
	}
}
