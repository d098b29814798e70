package dispute

// Token pricing in dollars per million tokens.
const (
	InputPricePerMillion  = 0.15
	OutputPricePerMillion = 0.60
)

// GenerationCost is the token usage and price of one proposal generation.
type GenerationCost struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	InputCost    float64 `json:"input_cost"`
	OutputCost   float64 `json:"output_cost"`
	TotalCost    float64 `json:"total_cost"`
}

// PriceTokens computes the cost of a generation from its token usage.
func PriceTokens(input, output int) GenerationCost {
	if input < 0 {
		input = 0
	}
	if output < 0 {
		output = 0
	}
	in := float64(input) / 1_000_000 * InputPricePerMillion
	out := float64(output) / 1_000_000 * OutputPricePerMillion
	return GenerationCost{
		InputTokens:  input,
		OutputTokens: output,
		InputCost:    in,
		OutputCost:   out,
		TotalCost:    in + out,
	}
}

// CostBreakdown is persisted with each run.
type CostBreakdown struct {
	LLM          GenerationCost `json:"llm"`
	ExternalAPIs float64        `json:"external_apis"`
	TotalCost    float64        `json:"total_cost"`
}

// CostSummary aggregates cost across the runs of a case.
type CostSummary struct {
	CaseID       string        `json:"case_id"`
	Runs         int           `json:"runs"`
	LLMCost      float64       `json:"llm_cost"`
	TotalCost    float64       `json:"total_cost"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	PerRun       []RunCostLine `json:"per_run"`
}

// RunCostLine is one run's share of a CostSummary.
type RunCostLine struct {
	RunID     string  `json:"run_id"`
	Status    Status  `json:"status"`
	LLMCost   float64 `json:"llm_cost"`
	TotalCost float64 `json:"total_cost"`
}

// SummarizeCosts folds the costs of runs belonging to caseID.
func SummarizeCosts(caseID string, runs []*Run) CostSummary {
	summary := CostSummary{CaseID: caseID, PerRun: make([]RunCostLine, 0, len(runs))}
	for _, run := range runs {
		if run == nil {
			continue
		}
		summary.Runs++
		summary.LLMCost += run.LLMCost
		summary.TotalCost += run.TotalCost
		summary.InputTokens += run.CostBreakdown.LLM.InputTokens
		summary.OutputTokens += run.CostBreakdown.LLM.OutputTokens
		summary.PerRun = append(summary.PerRun, RunCostLine{
			RunID:     run.RunID,
			Status:    run.Status,
			LLMCost:   run.LLMCost,
			TotalCost: run.TotalCost,
		})
	}
	return summary
}
