package ports

// ConversationState is the accumulated context supplied to the model gateway.
type ConversationState struct {
	Prompt    string
	History   []HistoryEntry
	Workspace []FileEntry
	Notes     []string
}

// HistoryEntry summarizes one step that has run.
type HistoryEntry struct {
	Index     int
	Round     int
	Tool      string
	Arguments map[string]any
	Status    StepStatus
	Summary   string
	Error     string
}

// NextIndex is the index the next proposed step will take.
func (s ConversationState) NextIndex() int {
	return len(s.History)
}
