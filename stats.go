package disruptor

// Stats is a point-in-time view of every cursor. Cursors are loaded one by
// one, so under load the values are not a single atomic snapshot.
type Stats struct {
	Capacity       uint64          `json:"capacity"`
	ProducerCursor uint64          `json:"producer_cursor"`
	Epoch          uint64          `json:"epoch"`
	ProducerSpins  uint64          `json:"producer_spins"`
	Stopped        bool            `json:"stopped"`
	Consumers      []ConsumerStats `json:"consumers"`
}

// ConsumerStats describes one consumer.
type ConsumerStats struct {
	ID       int    `json:"id"`
	Upstream int    `json:"upstream"`
	Cursor   uint64 `json:"cursor"`
	Lag      uint64 `json:"lag"`
}

// Stats retrieves the current cursors, lags and counters.
func (d *Disruptor) Stats() Stats {
	s := Stats{
		Capacity:       d.ring.capacity,
		ProducerCursor: d.producer.Cursor(),
		Epoch:          d.producer.Epoch(),
		ProducerSpins:  d.producer.spins.Load(),
		Stopped:        d.producer.stopped(),
		Consumers:      make([]ConsumerStats, len(d.consumers)),
	}
	for i, c := range d.consumers {
		cursor := c.Cursor()
		s.Consumers[i] = ConsumerStats{
			ID:       c.id,
			Upstream: c.upstream,
			Cursor:   cursor,
			Lag:      lag(s.ProducerCursor, cursor),
		}
	}
	return s
}
