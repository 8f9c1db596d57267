package pkg

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Contains checks if an item is in a slice. This function uses type parameters to work with any slice type.
func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}

	return false
}

// SafeIntToUint64 converts an int to uint64 safely, clamping negatives to zero.
func SafeIntToUint64(val int) uint64 {
	if val < 0 {
		return 0
	}

	return uint64(val)
}

// IsNilOrEmpty returns a boolean indicating if a *string is nil or empty.
// It's use TrimSpace so, a string "  " and "" will be considered empty.
func IsNilOrEmpty(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// IsUUID checks if a string is a valid canonical UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// GenerateUUIDv4 generates a random UUID (version 4).
func GenerateUUIDv4() uuid.UUID {
	return uuid.New()
}

// StructToJSONString convert a struct to JSON string.
func StructToJSONString(s any) (string, error) {
	jsonByte, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	return string(jsonByte), nil
}
