package channel

// Capabilities is the feature matrix of one platform.
type Capabilities struct {
	Text    bool `json:"text"`
	Media   bool `json:"media"`
	Reply   bool `json:"reply"`
	Unsend  bool `json:"unsend"`
	History bool `json:"history"`
}

// Descriptor describes an adapter to the dispatch layer.
type Descriptor struct {
	Type         Type         `json:"type"`
	DisplayName  string       `json:"displayName"`
	Capabilities Capabilities `json:"capabilities"`
	// MaxTextLength rejects longer bodies before the platform does. Zero means no limit.
	MaxTextLength int `json:"maxTextLength,omitempty"`
	// SendRate is the sustained sends per second allowed per session. Zero means unlimited.
	SendRate  float64 `json:"sendRate,omitempty"`
	SendBurst int     `json:"sendBurst,omitempty"`
}
