package session

import "sync"

// TranscriptLog accumulates one session's results: final fragments append
// permanently, interim fragments overwrite each other until the next
// final supersedes them.
type TranscriptLog struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func (t *TranscriptLog) Append(text string, isFinal bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isFinal {
		t.finals = append(t.finals, text)
		t.interim = ""
		return
	}
	t.interim = text
}

func (t *TranscriptLog) Snapshot() ([]string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	finals := make([]string, len(t.finals))
	copy(finals, t.finals)
	return finals, t.interim
}

func (t *TranscriptLog) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finals = nil
	t.interim = ""
}
