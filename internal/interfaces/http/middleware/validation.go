package middleware

import (
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// SetupValidator configures the binding validator with JSON field names and
// the Brazilian document tag used by invoice requests.
func SetupValidator() {
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
	v.RegisterValidation("cpfcnpj", validateCPFCNPJ)
}

// validateCPFCNPJ accepts a CPF (11 digits) or CNPJ (14 digits) with valid
// check digits. Punctuation is stripped before checking.
func validateCPFCNPJ(fl validator.FieldLevel) bool {
	digits := stripNonDigits(fl.Field().String())
	switch len(digits) {
	case 11:
		return validCPF(digits)
	case 14:
		return validCNPJ(digits)
	default:
		return false
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func allSameDigit(digits string) bool {
	for i := 1; i < len(digits); i++ {
		if digits[i] != digits[0] {
			return false
		}
	}
	return true
}

func validCPF(digits string) bool {
	if allSameDigit(digits) {
		return false
	}
	for _, position := range []int{9, 10} {
		sum := 0
		for i := 0; i < position; i++ {
			sum += int(digits[i]-'0') * (position + 1 - i)
		}
		check := (sum * 10) % 11 % 10
		if check != int(digits[position]-'0') {
			return false
		}
	}
	return true
}

func validCNPJ(digits string) bool {
	if allSameDigit(digits) {
		return false
	}
	weights := []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	for _, position := range []int{12, 13} {
		sum := 0
		offset := len(weights) - position
		for i := 0; i < position; i++ {
			sum += int(digits[i]-'0') * weights[offset+i]
		}
		check := sum % 11
		if check < 2 {
			check = 0
		} else {
			check = 11 - check
		}
		if check != int(digits[position]-'0') {
			return false
		}
	}
	return true
}
