package metrics

// Snapshot copies every metric, keyed by name.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.values))
	for key, v := range r.values {
		out[string(key)] = v.Load()
	}
	return out
}

// Value reads one metric. Keys never touched read as zero.
func (r *Registry) Value(key MetricKey) int64 {
	r.mu.RLock()
	v, ok := r.values[key]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return v.Load()
}
