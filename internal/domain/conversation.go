package domain

// Snapshot is the full ordered message sequence for a thread at a
// checkpoint. Snapshots are append-only; each new snapshot supersets the
// previous one, and the highest sequence number is the thread's current
// state.
type Snapshot struct {
	ThreadID  string
	Seq       int
	Messages  []ChatMessage
	CreatedAt string
}

// TurnPair is one user message paired with its assistant reply.
type TurnPair struct {
	User      string `json:"user_text"`
	Assistant string `json:"assistant_text"`
}

// SearchResult is a single snippet returned by the search capability.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}
