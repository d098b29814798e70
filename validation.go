package dispute

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the package-level validator instance used for struct validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// HumanReviewDecision is a reviewer's verdict on a pending run.
type HumanReviewDecision struct {
	RunID              string              `json:"run_id" validate:"required"`
	CaseID             string              `json:"case_id" validate:"required"`
	Decision           ReviewStatus        `json:"decision" validate:"required,oneof=approved rejected"`
	Comments           string              `json:"comments,omitempty" validate:"max=4000"`
	Reviewer           string              `json:"reviewer,omitempty"`
	ModifiedResolution *ResolutionProposal `json:"modified_resolution,omitempty"`
	DecidedAt          time.Time           `json:"decided_at,omitempty"`
}

// Validate checks the decision shape.
func (d *HumanReviewDecision) Validate() error {
	if d == nil {
		return NewError(ErrValidation, "decision required", nil, nil)
	}
	d.Decision = ReviewStatus(strings.ToLower(strings.TrimSpace(string(d.Decision))))
	if err := validate.Struct(d); err != nil {
		return NewError(ErrValidation, describeValidation(err), err, map[string]any{"run_id": d.RunID})
	}
	if d.ModifiedResolution != nil {
		if d.Decision != ReviewApproved {
			return NewError(ErrValidation, "modified resolution only allowed with approval", nil, map[string]any{"run_id": d.RunID})
		}
		if err := d.ModifiedResolution.Check(); err != nil {
			return err
		}
	}
	return nil
}

// RejectionMessage is the error message recorded when a reviewer rejects.
func RejectionMessage(comments string) string {
	comments = strings.TrimSpace(comments)
	if comments == "" {
		comments = "no reason provided"
	}
	return "Human rejected: " + comments
}

// ValidateCase applies the dispute eligibility rules to fetched data.
func ValidateCase(data SourcedData) error {
	if len(data.Case) == 0 {
		return NewError(ErrValidation, "case data not found", nil, nil)
	}
	facts := FactsOf(data)
	kind := strings.ToLower(facts.DisputeType)
	if !strings.Contains(kind, "billing") && !strings.Contains(kind, "charge") {
		return NewError(ErrValidation, "not a billing dispute", nil, map[string]any{
			"dispute_type": facts.DisputeType,
		})
	}
	if facts.Amount < 0 {
		return NewError(ErrValidation, "invalid dispute amount: negative amounts not allowed", nil, map[string]any{
			"amount": facts.Amount,
		})
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
