package types

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("register notblank validation: %v", err))
	}
	return v
}

type Validater interface {
	Validate() map[string]string
}

type QueryParams struct {
	Text string `json:"text" validate:"required,notblank,max=8000"`
	K    int    `json:"k,omitempty" validate:"gte=0,lte=50"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *QueryParams) Validate() map[string]string {
	errs := ValidateStruct(params)
	for k, v := range errs {
		if f := strings.TrimPrefix(k, "QueryParams."); f != k {
			delete(errs, k)
			errs[strings.ToLower(f)] = v
		}
	}
	return errs
}

// ValidateStruct runs the tag validations of s and returns the failures
// keyed by field name.
func ValidateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"_": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Namespace()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type QueryResponse struct {
	Answer          string           `json:"answer"`
	SourceDocuments []SourceDocument `json:"source_documents"`
}

type SourceDocument struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

func NewQueryResponse(a *Answer) *QueryResponse {
	resp := &QueryResponse{
		Answer:          a.Text,
		SourceDocuments: make([]SourceDocument, 0, len(a.Sources)),
	}
	for _, ch := range a.Sources {
		resp.SourceDocuments = append(resp.SourceDocuments, SourceDocument{
			Source:  ch.Source,
			Content: ch.Content,
		})
	}
	return resp
}
