package beta

// MaxTimeoutAction selects what the governor's decision ladder does once
// max_timeout has elapsed with ratio still below MinRefRatio (decision step
// 11). Earlier revisions of the source used drop_and_replace here; this
// implementation exposes both behaviours behind a policy flag rather than
// silently picking one, per spec.md section 9's open question, and
// defaults to Stop.
type MaxTimeoutAction int

const (
	// MaxTimeoutStop preserves the received prefix, matching the
	// documented default decision ladder (step 11/12 both stop).
	MaxTimeoutStop MaxTimeoutAction = iota
	// MaxTimeoutDropAndReplace discards the prefix and forces a lowest-
	// quality re-fetch of the same index, matching an earlier source
	// revision's behavior at this branch.
	MaxTimeoutDropAndReplace
)

// Thresholds holds the governor's tunable buffer/quality levels, read from
// the player's buffer-settings configuration (internal/appconfig).
type Thresholds struct {
	SafeBufferLevel  float64 // seconds; above this the governor is idle (step 2)
	PanicBufferLevel float64 // seconds; below this the governor is aggressive (steps 7, 10)
	VQThreshold      float64 // default per-segment ratio cutoff (step 9)
}

// MinRefRatio is the governor's MIN_REF_RATIO constant (steps 6, 7, 11).
const MinRefRatio = 0.1

// DefaultVQThreshold is used when a segment has no explicit VQ threshold.
const DefaultVQThreshold = 0.8

// FallbackTimeout is the per-segment timeout used when bw == 0 at first
// byte (boundary behaviour in spec.md section 8).
const FallbackTimeout = 10 // seconds

// Policy bundles the thresholds and the max-timeout behavioral flag a
// Governor is configured with.
type Policy struct {
	Thresholds
	MaxTimeoutAction MaxTimeoutAction
}

// DefaultPolicy returns a Policy with the spec's documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: Thresholds{
			SafeBufferLevel:  7.5,
			PanicBufferLevel: 3,
			VQThreshold:      DefaultVQThreshold,
		},
		MaxTimeoutAction: MaxTimeoutStop,
	}
}
