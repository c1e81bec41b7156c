package models

// BudgetPeriod defines the time window for a budget policy.
type BudgetPeriod string

const (
	BudgetDaily   BudgetPeriod = "daily"
	BudgetMonthly BudgetPeriod = "monthly"
)

// BudgetPolicy caps the tokens a pipeline stage may spend in a period.
// Stage "*" (or empty) caps the sum over all stages.
type BudgetPolicy struct {
	Stage     string       `yaml:"stage" json:"stage"`
	MaxTokens int64        `yaml:"max_tokens" json:"max_tokens"`
	Period    BudgetPeriod `yaml:"period" json:"period"`
}

// BudgetStatus reports current usage against a budget policy.
type BudgetStatus struct {
	Policy    BudgetPolicy `json:"policy"`
	Used      int64        `json:"used"`
	Remaining int64        `json:"remaining"`
}
