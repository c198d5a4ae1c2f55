package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"

	"github.com/minios-linux/lokitd/apperr"
)

const maxBodyBytes = 4 << 20

var (
	vOnce sync.Once
	valid *validator.Validate
	trans ut.Translator
)

// validatorInstance returns the shared validator, reporting fields by their
// json names with English messages.
func validatorInstance() (*validator.Validate, ut.Translator) {
	vOnce.Do(func() {
		loc := en.New()
		trans, _ = ut.New(loc, loc).GetTranslator("en")

		valid = validator.New(validator.WithRequiredStructEnabled())
		valid.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "" || tag == "-" {
				return fld.Name
			}
			if i := strings.Index(tag, ","); i >= 0 {
				tag = tag[:i]
			}
			return tag
		})
		_ = entrans.RegisterDefaultTranslations(valid, trans)
	})
	return valid, trans
}

// decodeJSON reads one JSON value into T and validates it. Every failure is
// a validation error.
func decodeJSON[T any](r *http.Request) (T, error) {
	var dst T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dst, apperr.Validationf("server", "empty body")
		}
		return dst, apperr.Validationf("server", "invalid JSON: %v", err)
	}
	if dec.More() {
		return dst, apperr.Validationf("server", "unexpected trailing data")
	}
	if err := validate(dst); err != nil {
		return dst, err
	}
	return dst, nil
}

func validate(v any) error {
	vd, tr := validatorInstance()
	err := vd.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, fe := range verrs {
			msgs[i] = fe.Translate(tr)
		}
		return apperr.Validationf("server", "%s", strings.Join(msgs, "; "))
	}
	return apperr.Wrap(err, apperr.KindValidation, "server")
}
