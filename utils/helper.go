package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// NormalizeDocType is the single normalization step for document type keys.
// Every lookup that compares doc types (rule matching, missing-doc detection,
// existing-type sets) must go through this, otherwise the evaluator and the
// alert generator drift apart on case or stray whitespace.
func NormalizeDocType(docType string) string {
	return strings.ToLower(strings.TrimSpace(docType))
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func UniqueSlice[T comparable](input []T) []T {
	seen := make(map[T]bool, len(input))
	out := make([]T, 0, len(input))
	for _, v := range input {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
