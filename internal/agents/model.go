package agents

// Agent is one consultable persona from the catalog.
type Agent struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Territory   string `json:"territory"`
	Description string `json:"description"`
	Symbol      string `json:"symbol,omitempty"`
	DailyLimit  int    `json:"daily_limit"`
	Active      bool   `json:"active"`

	// WebhookURL is resolved at load time and never exposed.
	WebhookURL string `json:"-"`
}

// Usage is an agent as seen by one user today.
type Usage struct {
	Agent
	UsedToday      int    `json:"used_today"`
	RemainingToday int    `json:"remaining_today"`
	CanConsult     bool   `json:"can_consult"`
	ResetsAt       string `json:"resets_at"`
}

type catalogFile struct {
	Agents []catalogEntry `yaml:"agents"`
}

type catalogEntry struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Territory   string `yaml:"territory"`
	Description string `yaml:"description"`
	Symbol      string `yaml:"symbol"`
	WebhookURL  string `yaml:"webhook_url"`
	DailyLimit  int    `yaml:"daily_limit"`
	Active      *bool  `yaml:"active"`
}
