package models

type StopReason string

const (
	StopNone      StopReason = ""
	StopTransport StopReason = "transport"
	StopTimeout   StopReason = "timeout"
	StopRejected  StopReason = "rejected"
	StopStore     StopReason = "store"
	StopBusy      StopReason = "busy"
	StopCanceled  StopReason = "canceled"
)

type SyncResult struct {
	Synced   int        `json:"synced"`
	Stopped  bool       `json:"stopped"`
	Reason   StopReason `json:"reason,omitempty"`
	FailedID int64      `json:"failed_id,omitempty"`
}
