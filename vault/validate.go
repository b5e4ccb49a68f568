package vault

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const MaxNameLength = 100

var folderNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var validate = newValidator()

type folderName struct {
	Name string `validate:"required,max=100,foldername"`
}

type entryName struct {
	Name string `validate:"required,max=100,entryname"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("foldername", func(fl validator.FieldLevel) bool {
		return folderNamePattern.MatchString(fl.Field().String())
	})
	// a single path element: no separators, not "." or "..", no NUL
	_ = v.RegisterValidation("entryname", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "." || s == ".." {
			return false
		}
		return !strings.ContainsAny(s, "/\\\x00")
	})
	return v
}

// ValidFolderName reports whether name may be used for a new folder.
func ValidFolderName(name string) bool {
	return validate.Struct(folderName{Name: name}) == nil
}

// ValidEntryName reports whether name is a usable single file or folder name.
func ValidEntryName(name string) bool {
	return validate.Struct(entryName{Name: name}) == nil
}
