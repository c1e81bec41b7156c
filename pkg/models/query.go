package models

// Record is one row of tabular data keyed by column name.
type Record = map[string]any

// Query is an inbound natural-language question. The prompt version
// partitions the cache so a prompt change never serves stale answers.
type Query struct {
	Question      string `json:"question"`
	PromptVersion string `json:"prompt_version"`
}

// ChartSpec is the model's answer to a question: the rows that answer it and
// a declarative chart description for those rows.
type ChartSpec struct {
	Data []Record       `json:"data"`
	Spec map[string]any `json:"spec"`
}

// DataSample gives the model enough shape information to design a chart
// without shipping the full dataset.
type DataSample struct {
	Columns    []string `json:"columns"`
	ExampleRow Record   `json:"example_row"`
}

// InteractiveResponse is the body returned by /interactive/ and stored in the cache.
type InteractiveResponse struct {
	Spec       map[string]any `json:"spec"`
	Code       string         `json:"code"`
	PlotlyJSON string         `json:"plotly_json"`
}

// ResultSet is what a statement returned: the records kept, and the number
// of rows the statement produced, which is larger when the records were cut
// at the row limit.
type ResultSet struct {
	Records []Record
	Total   int
}

// QueryResponse is the body returned by /query/. Rows counts every row the
// statement produced; Data stops at the row limit, and Truncated says so.
type QueryResponse struct {
	SQL       string   `json:"sql"`
	Rows      int      `json:"rows"`
	Data      []Record `json:"data"`
	Truncated bool     `json:"truncated,omitempty"`
}

// VisualizeResponse is the body returned by /visualize/.
type VisualizeResponse struct {
	Spec map[string]any `json:"spec"`
	Code string         `json:"code"`
}
