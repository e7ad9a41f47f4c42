package fsm

// FlashRequest is the FSM input
type FlashRequest struct {
	RunID      string
	SourcePath string
	Device     string
}

// FlashResponse is the FSM output (accumulated across transitions)
type FlashResponse struct {
	State        string
	BytesWritten int64
	BytesTotal   int64
	Attempts     int
	Message      string
}

// State names
const (
	StateConverting           = "converting"
	StateAwaitingConfirmation = "awaiting_confirmation"
	StatePreparing            = "preparing"
	StateWriting              = "writing"
	StateVerifying            = "verifying"
	StateDone                 = "done"
	StateFailed               = "failed"
)
