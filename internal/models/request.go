package models

// MediaRequest is one user request to fetch a media link.
type MediaRequest struct {
	JobID      string `json:"job_id"`
	UserID     int64  `json:"user_id"`
	ChatID     int64  `json:"chat_id"`
	MessageRef string `json:"message_ref,omitempty"`
	URL        string `json:"url"`
	Platform   string `json:"platform"`

	// OperatorRetry is set when an operator re-runs an escalated request;
	// handlers skip user-facing duplicate prevention for it.
	OperatorRetry bool `json:"operator_retry,omitempty"`
}
