package reviewqueue

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/canvasshq/canvass/internal/model"
)

// Filters narrow which responses GetNext may serve. Zero values mean "no
// restriction".
type Filters struct {
	// Search substring-matches the interviewer id or the response id.
	Search string
	// Gender / AgeMin / AgeMax / Mode match respondent demographics and the
	// interview mode.
	Gender string
	AgeMin int
	AgeMax int
	Mode   string
	// ExcludeResponseID suppresses a response the client just acted on so a
	// refresh does not re-serve it.
	ExcludeResponseID string
	// Expr is an optional CEL expression evaluated against the response.
	Expr string
}

// celFilter wraps a compiled CEL program shared by the sticky-continuation
// check and the eligibility scan. When disabled, Eval always returns true.
type celFilter struct {
	prog    cel.Program
	enabled bool
}

func newCELFilter(expr string) (celFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return celFilter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("survey", cel.StringType),
		cel.Variable("ac", cel.StringType),
		cel.Variable("interviewer", cel.StringType),
		cel.Variable("mode", cel.StringType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("age", cel.IntType),
		cel.Variable("duration_sec", cel.IntType),
		cel.Variable("created_ms", cel.IntType),
		// Parsed answers for field-level filtering
		cel.Variable("answers", cel.DynType),
	)
	if err != nil {
		return celFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return celFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return celFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return celFilter{}, err
	}
	return celFilter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against a response. When disabled,
// returns true.
func (f celFilter) Eval(r *model.SurveyResponse) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"survey":       r.SurveyID,
		"ac":           r.AC,
		"interviewer":  r.Interviewer,
		"mode":         string(r.Mode),
		"gender":       r.Respondent.Gender,
		"age":          int64(r.Respondent.Age),
		"duration_sec": int64(r.DurationSec),
		"created_ms":   r.CreatedAtMs,
		"answers":      map[string]any(r.Answers),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

// matches applies the plain filters plus the compiled CEL program.
func (f Filters) matches(r *model.SurveyResponse, prog celFilter) bool {
	if f.ExcludeResponseID != "" && r.ResponseID == f.ExcludeResponseID {
		return false
	}
	if f.Search != "" &&
		!strings.Contains(r.Interviewer, f.Search) &&
		!strings.Contains(r.ResponseID, f.Search) {
		return false
	}
	if f.Gender != "" && !strings.EqualFold(r.Respondent.Gender, f.Gender) {
		return false
	}
	if f.AgeMin > 0 && r.Respondent.Age < f.AgeMin {
		return false
	}
	if f.AgeMax > 0 && r.Respondent.Age > f.AgeMax {
		return false
	}
	if f.Mode != "" && !strings.EqualFold(string(r.Mode), f.Mode) {
		return false
	}
	return prog.Eval(r)
}

func (f Filters) compile() (celFilter, error) {
	prog, err := newCELFilter(f.Expr)
	if err != nil {
		return celFilter{}, fmt.Errorf("%w: %v", ErrBadFilter, err)
	}
	return prog, nil
}
