package registration

// SessionID is the URL-safe string identifying a Session (spec §3).
type SessionID string

// Session is the server-reported summary of a registration session's
// state (spec §3). Owned by Service; mutated only by successful server
// responses.
type Session struct {
	AllowedToRequestCode bool `json:"allowed_to_request_code"`
	Verified             bool `json:"verified"`
}

// sessionResponse is the shape both create_session and resume_session
// parse their 2xx body into (spec §6).
type sessionResponse struct {
	SessionID SessionID `json:"session_id"`
	Session   Session   `json:"session"`
}

// CreateSessionRequest carries the fields needed to POST
// /v1/verification/session (spec §6).
type CreateSessionRequest struct {
	// Number is the E.164 phone number to verify.
	Number string
}

// SubmitRequest describes a POST/PATCH to submit against the bound
// session (spec §4.7 "submit_request(Request)"). PathSuffix is appended
// to /v1/verification/session/{id}.
type SubmitRequest struct {
	Method     string
	PathSuffix string
	Body       []byte
	Headers    []string
}
