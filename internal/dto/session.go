package dto

type SessionResponse struct {
	ID            int            `json:"id" example:"0"`
	Provider      string         `json:"provider" example:"deepgram"`
	State         string         `json:"state" example:"recording"`
	Recording     bool           `json:"recording" example:"true"`
	Imported      bool           `json:"imported" example:"false"`
	Config        map[string]any `json:"config"`
	Extra         map[string]any `json:"extra,omitempty"`
	ChangedParams []string       `json:"changed_params,omitempty"`
	Cost          *float64       `json:"cost,omitempty" example:"0.0135"`
	PreviewURL    string         `json:"preview_url" example:"wss://api.deepgram.com/v1/listen?language=en"`
}

type SessionListResponse struct {
	Sessions          []SessionResponse `json:"sessions"`
	GloballyRecording bool              `json:"globally_recording" example:"false"`
}

type UpdateConfigRequest struct {
	Fields map[string]any `json:"fields"`
}

type SwitchProviderRequest struct {
	Provider string `json:"provider" example:"microsoft"`
}

type ImportConfigRequest struct {
	Input string `json:"input" example:"wss://api.deepgram.com/v1/listen?model=nova-3&smart_format=true"`
}

type PreviewResponse struct {
	URL   string   `json:"url"`
	Lines []string `json:"lines"`
}

type TranscriptResponse struct {
	SessionID int      `json:"session_id" example:"0"`
	Finals    []string `json:"finals"`
	Interim   string   `json:"interim,omitempty"`
}

type ProviderResponse struct {
	Kind         string         `json:"kind" example:"deepgram"`
	Fields       []string       `json:"fields"`
	Defaults     map[string]any `json:"defaults"`
	PricePerHour float64        `json:"price_per_hour" example:"0.46"`
}

type BulkResultResponse struct {
	Attempted         int    `json:"attempted" example:"3"`
	GloballyRecording bool   `json:"globally_recording" example:"true"`
	Error             string `json:"error,omitempty"`
}
