package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Skufu/postop-risk/internal/errorx"
	"github.com/Skufu/postop-risk/internal/features"
)

// Flag is a boolean that also accepts 0/1 and their string forms.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(string(bytes.Trim(data, `"`))) {
	case "true", "1":
		*f = true
	case "false", "0", "", "null":
		*f = false
	default:
		return fmt.Errorf("expected true, false, 0 or 1, got %s", data)
	}
	return nil
}

// Comorbidities accepts a comma-joined string or a list of names.
type Comorbidities string

func (c *Comorbidities) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = Comorbidities(text)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected a string or a list of strings")
	}
	*c = Comorbidities(strings.Join(list, ","))
	return nil
}

type PredictRequest struct {
	Idade              *int          `json:"idade" binding:"required,min=0,max=120"`
	Sexo               string        `json:"sexo" binding:"required"`
	Comorbidades       Comorbidities `json:"comorbidades"`
	TipoCirurgia       string        `json:"tipo_cirurgia" binding:"required"`
	DuracaoMinutos     *float64      `json:"duracao_minutos" binding:"omitempty,gte=0"`
	BloqueioPudendo    Flag          `json:"bloqueio_pudendo"`
	DorD1              *float64      `json:"dor_d1" binding:"required,min=0,max=10"`
	RetencaoUrinaria   Flag          `json:"retencao_urinaria"`
	Febre              Flag          `json:"febre"`
	SangramentoIntenso Flag          `json:"sangramento_intenso"`
	UseCollectiveModel *bool         `json:"use_collective_model"`
}

// Record maps the request onto the raw record the model derives from.
func (r PredictRequest) Record() features.RawRecord {
	return features.RawRecord{
		Age:              r.Idade,
		Sex:              r.Sexo,
		Comorbidities:    string(r.Comorbidades),
		SurgeryType:      r.TipoCirurgia,
		DurationMinutes:  r.DuracaoMinutos,
		PudendalBlock:    bool(r.BloqueioPudendo),
		PainD1:           r.DorD1,
		UrinaryRetention: bool(r.RetencaoUrinaria),
		Fever:            bool(r.Febre),
		IntenseBleeding:  bool(r.SangramentoIntenso),
	}
}

// WantsCollective defaults to true when the field is absent.
func (r PredictRequest) WantsCollective() bool {
	return r.UseCollectiveModel == nil || *r.UseCollectiveModel
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

// bindingError turns a gin binding failure into a ValidationError with one
// entry per rejected field.
func bindingError(err error) *errorx.ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &errorx.ValidationError{Fields: make([]errorx.FieldError, 0, len(verrs))}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, errorx.FieldError{Field: fe.Field(), Message: validationMessage(fe)})
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return errorx.NewValidationError(typeErr.Field, "must be a "+typeErr.Type.String())
	}
	return errorx.NewValidationError("body", err.Error())
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
