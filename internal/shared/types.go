package shared

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringSlice", value)
	}

	return json.Unmarshal(bytes, s)
}

func NewID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

var ErrUnknownScope = errors.New("unknown scope")

// Scope limits what an operator key may do on the control surface.
type Scope string

const (
	ScopeControl Scope = "control"
	ScopeEvents  Scope = "events"
	ScopeJournal Scope = "journal"
)

func (s Scope) String() string {
	return string(s)
}

func (s Scope) Valid() bool {
	switch s {
	case ScopeControl, ScopeEvents, ScopeJournal:
		return true
	}
	return false
}

// ParseScopes trims, lowercases and dedupes raw scope names, keeping their
// first-seen order. Blank entries are skipped. An empty result defaults to
// control.
func ParseScopes(raw []string) (StringSlice, error) {
	var out StringSlice
	for _, r := range raw {
		name := strings.ToLower(strings.TrimSpace(r))
		if name == "" || slices.Contains(out, name) {
			continue
		}
		if !Scope(name).Valid() {
			return nil, fmt.Errorf("%w %q", ErrUnknownScope, r)
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		out = StringSlice{string(ScopeControl)}
	}
	return out, nil
}
