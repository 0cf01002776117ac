package model

// Submission is a query sent to the service for analysis, over HTTP or Kafka.
type Submission struct {
	ID            string         `json:"id,omitempty"`
	Name          string         `json:"name,omitempty"`
	Query         string         `json:"query"`
	OperationName string         `json:"operation_name,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	// Budget is a ceiling or a budget class name; empty keeps the service default.
	Budget        string `json:"budget,omitempty"`
	FailOnWarning *bool  `json:"fail_on_warning,omitempty"`
}
