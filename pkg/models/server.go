package models

// ServerMode identifies where a compile server runs
type ServerMode string

const (
	ModeLocal ServerMode = "local"
	ModeCloud ServerMode = "cloud"
)

// ServerDescriptor is the result of probing one candidate compile server.
// It is recomputed on every probe.
type ServerDescriptor struct {
	URL          string     `json:"url"`
	Mode         ServerMode `json:"mode"`
	Online       bool       `json:"online"`
	Capabilities []string   `json:"capabilities,omitempty"`
	AuthToken    string     `json:"-"`
}

// Supports reports whether the server advertised the engine. A server that
// advertised nothing is assumed to support every engine.
func (s ServerDescriptor) Supports(engine string) bool {
	if len(s.Capabilities) == 0 {
		return true
	}
	for _, e := range s.Capabilities {
		if e == engine {
			return true
		}
	}
	return false
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Status         string   `json:"status"`
	Engines        []string `json:"engines"`
	DefaultEngine  string   `json:"default_engine,omitempty"`
	CompileTimeout int      `json:"compile_timeout,omitempty"`
	IsCloud        bool     `json:"is_cloud"`
	Version        string   `json:"version,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
}
