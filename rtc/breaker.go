package rtc

// breakerLevel classifies the source's overall backlog against the
// watermarks below. Per spec §3.2/§4.7 this is a single ambient indicator
// carried by the Source — not recomputed per consumer — and checked once at
// the top of OnRTP, before the packet is handed to the bridge or to any
// consumer.
type breakerLevel int

const (
	// levelNormal: backlog below the high watermark, deliver everything.
	levelNormal breakerLevel = iota
	// levelHigh: deliver only, no change in policy yet, but eligible for
	// logging/metrics hooks a caller may attach.
	levelHigh
	// levelCritical: delivery still proceeds; logged as an early warning
	// before the source reaches levelDying.
	levelCritical
	// levelDying: the source discards the packet entirely — neither the
	// bridge nor any consumer sees it (spec §8.2 S5) — rather than let one
	// backed-up subscriber apply backpressure to everyone else.
	levelDying
)

// circuitBreaker holds the three watermarks, in queued-packet counts, that
// separate the levels above. There is no circuit-breaker library anywhere
// in the retrieved pack (see DESIGN.md) — this is a small, self-contained
// watermark check, not a generic "trip/reset" breaker, so pulling in an HTTP
// circuit-breaker package would add an API this doesn't need.
type circuitBreaker struct {
	highWatermark     int
	criticalWatermark int
	dyingWatermark    int
}

// defaultBreaker matches the conservative backpressure behavior described
// in spec §5: once the deepest consumer backlog reaches the dying watermark,
// incoming packets are dropped for the bridge and every consumer instead of
// blocking the source.
func defaultBreaker() circuitBreaker {
	return circuitBreaker{
		highWatermark:     64,
		criticalWatermark: 256,
		dyingWatermark:    1024,
	}
}

func (b circuitBreaker) level(queueLen int) breakerLevel {
	switch {
	case queueLen >= b.dyingWatermark:
		return levelDying
	case queueLen >= b.criticalWatermark:
		return levelCritical
	case queueLen >= b.highWatermark:
		return levelHigh
	default:
		return levelNormal
	}
}
