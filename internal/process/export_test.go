package process

// SignalsSent returns how many signals were sent to h's process group.
func SignalsSent(h *Handle) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signals
}
