// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for each kind of generated ID.
const (
	AdapterPrefix   = "ad-"
	FlowEventPrefix = "fe-"
	MessagePrefix   = "msg-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// namespace scopes derived IDs so they never collide with other UUIDv5 users.
var namespace = uuid.MustParse("5b0c3f9e-5c61-4f43-9d8e-6f2f0a0f7d10")

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

func Adapter() (string, error)   { return GenerateWithPrefix(AdapterPrefix) }
func FlowEvent() (string, error) { return GenerateWithPrefix(FlowEventPrefix) }
func Message() (string, error)   { return GenerateWithPrefix(MessagePrefix) }

// Batch returns a new correlation id shared by every flow event a single
// ingress payload produces.
func Batch() string {
	return uuid.NewString()
}

// Derive returns a deterministic ID with the given prefix: the same parts
// always yield the same ID. It is used where re-processing must land on the
// record created the first time.
func Derive(prefix string, parts ...string) string {
	sum := uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x00")))
	var b strings.Builder
	b.WriteString(prefix)
	for i := 0; i < Length; i++ {
		b.WriteByte(Alphabet[int(sum[i])%len(Alphabet)])
	}
	return b.String()
}
