package oracle

// write appends an observation at the next ring position, or overwrites the
// current slot when the timestamp has not advanced. The cumulative carries
// tick-seconds: each advance adds currentTick * elapsed.
func (tp *trackedPool) write(now, tick int64) {
	last := &tp.observations[tp.index]
	if now == last.Timestamp {
		last.Tick = tick
		return
	}
	elapsed := now - last.Timestamp
	next := (tp.index + 1) % tp.cardinality
	tp.observations[next] = Observation{
		Timestamp:      now,
		Tick:           tick,
		TickCumulative: last.TickCumulative + tick*elapsed,
		Initialized:    true,
	}
	tp.index = next
}

// latest returns the most recent observation.
func (tp *trackedPool) latest() Observation {
	return tp.observations[tp.index]
}

// at walks the ring backwards from the write cursor and returns the youngest
// initialized observation no newer than target, or the oldest available one
// when history does not reach that far.
func (tp *trackedPool) at(target int64) Observation {
	oldest := tp.observations[tp.index]
	for step := uint16(0); step < tp.cardinality; step++ {
		idx := (tp.index + tp.cardinality - step) % tp.cardinality
		obs := tp.observations[idx]
		if !obs.Initialized {
			break
		}
		if obs.Timestamp <= target {
			return obs
		}
		oldest = obs
	}
	return oldest
}

// cumulativeAt interpolates the tick accumulator at an arbitrary time at or
// after the observation.
func (obs Observation) cumulativeAt(at int64) int64 {
	if at <= obs.Timestamp {
		return obs.TickCumulative
	}
	return obs.TickCumulative + obs.Tick*(at-obs.Timestamp)
}
