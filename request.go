package devrun

// FlushRequest flows through the flush pipeline.
// It carries one batch and the context captured when it was taken.
type FlushRequest struct {
	// Input fields
	RunID    string  // Run the batch belongs to
	File     *string // Active file name at flush time
	Language *string // Active language at flush time
	Moves    []Move  // Batch, in capture order

	// Metadata fields
	FlushID string // Unique identifier for this flush
	Epoch   int    // Batcher epoch the batch was taken in
}

// MoveRequest builds the wire request for the batch.
func (r *FlushRequest) MoveRequest() MoveRequest {
	return MoveRequest{
		RunID:    r.RunID,
		File:     r.File,
		Language: r.Language,
		Moves:    r.Moves,
	}
}
