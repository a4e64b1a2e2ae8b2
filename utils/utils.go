package utils

import (
	"unsafe"
)

// B2S converts a byte slice to a string without copying.
// The input must not be modified afterwards.
func B2S(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

// S2B converts a string to a byte slice without copying.
// The result must not be modified.
func S2B(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
