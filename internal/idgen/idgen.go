// Package idgen generates device and blob identifiers.
//
// Device ids are short nanoid strings a user can read and type. Blob ids
// are ULIDs: lexically sortable by creation time, so listing a pair's
// blobs in key order yields them oldest first.
package idgen

import (
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"
)

// DevicePrefix is prepended to every generated device id.
var DevicePrefix = "dev-"

// Alphabet defines the character set used for the random portion of a
// device id.
var Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters in a device id (excluding the
// prefix).
var Length = 12

// DeviceID returns a new device id.
func DeviceID() (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return DevicePrefix + id, nil
}

// BlobID returns a new time-ordered blob id.
func BlobID() string {
	return strings.ToLower(ulid.Make().String())
}

// ValidBlobID reports whether s parses as a blob id.
func ValidBlobID(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}
