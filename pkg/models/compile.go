package models

// CompileRequest is the JSON body of POST /compile
type CompileRequest struct {
	Files       map[string]string `json:"files"`
	BinaryFiles map[string]string `json:"binaryFiles,omitempty"`
	MainFile    string            `json:"mainFile,omitempty"`
	Engine      string            `json:"engine,omitempty"`
	ProjectID   string            `json:"projectId,omitempty"`
}

// ErrorResponse is the JSON body returned by the compile server on failure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Log     string `json:"log,omitempty"`
}

// CacheMissCode is the error value the server uses when it holds no
// workspace for a project
const CacheMissCode = "CACHE_MISS"

// OutcomeCode classifies a compile attempt as seen by the client
type OutcomeCode string

const (
	OutcomeOK              OutcomeCode = "ok"
	OutcomeEndpointMissing OutcomeCode = "endpoint_missing"
	OutcomeCacheMiss       OutcomeCode = "cache_miss"
	OutcomeCompileFailed   OutcomeCode = "compile_failed"
	OutcomeUnauthorized    OutcomeCode = "unauthorized"
	OutcomeBusy            OutcomeCode = "busy"
	OutcomeError           OutcomeCode = "error"
)
