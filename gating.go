package disruptor

// producerAdmits reports whether the producer may write seq without
// overwriting a slot some consumer has not finished reading.
//
// Every consumer is checked, not only the slowest one. The subtraction is
// modular so it stays correct right after an epoch rebase.
func producerAdmits(seq, capacity uint64, consumers []*Consumer) bool {
	for _, c := range consumers {
		if seq-c.seq.Load() >= capacity {
			return false
		}
	}
	return true
}

// consumerAdmits reports whether a consumer at seq may read its next slot:
// the producer must have published it and the upstream consumer, if any, must
// already be past it.
func consumerAdmits(seq uint64, producer *Sequence, upstream *Sequence) bool {
	if seq >= producer.Load() {
		return false
	}
	return upstream == nil || seq < upstream.Load()
}
