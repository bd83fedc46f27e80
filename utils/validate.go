package utils

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	// patternM はタグ名と正規表現の対応
	patternM = map[string]*regexp.Regexp{
		"address": regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
		"txhash":  regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`),
	}
)

var regexpValidator validator.Func = func(fl validator.FieldLevel) bool {
	s, _ := fl.Field().Interface().(string)
	pattern, ok := patternM[fl.GetTag()]
	if !ok {
		return false
	}
	return pattern.MatchString(s)
}

// Validator は独自タグ（address, txhash）を登録済みのバリデータを返す
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		for tag := range patternM {
			_ = validate.RegisterValidation(tag, regexpValidator)
		}
	})
	return validate
}

// IsAddress は 0x 付き 40桁16進のアドレスかどうか
func IsAddress(s string) bool {
	return Validator().Var(s, "address") == nil
}

// IsTxHash は 0x 付き 64桁16進のハッシュかどうか
func IsTxHash(s string) bool {
	return Validator().Var(s, "txhash") == nil
}
