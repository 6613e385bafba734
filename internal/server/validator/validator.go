// Package validator configures gin's binding engine and turns its raw
// validation errors into messages a caller can act on.
package validator

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var trans ut.Translator

// Init teaches the binding engine to report json field names and installs
// the english translations. Call once before the first request.
func Init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	english := en.New()
	uni := ut.New(english, english)
	trans, _ = uni.GetTranslator("en")

	_ = en_translations.RegisterDefaultTranslations(v, trans)
}

// ParseError flattens a binding error into one deterministic line, e.g.
// "messages: is a required field; model: is a required field".
func ParseError(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid request body"
	}

	parts := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		ns := e.Namespace()
		if i := strings.Index(ns, "."); i != -1 {
			ns = ns[i+1:]
		}

		msg := e.Error()
		if trans != nil {
			msg = e.Translate(trans)
		}
		if e.Tag() == "oneof" {
			msg = fmt.Sprintf("must be one of [%s]", strings.ReplaceAll(e.Param(), " ", ", "))
		}

		// Translated messages repeat the field name; strip it to avoid
		// "model: model is a required field".
		msg = strings.TrimPrefix(msg, e.Field()+" ")

		parts = append(parts, ns+": "+msg)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}
