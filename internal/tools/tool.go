// Package tools describes the conversion tools and how they are discovered
// for a piece of input text.
package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/n0madic/go-devcodec/internal/codec"
)

var ErrUnknownTool = errors.New("unknown tool")

// Direction names a conversion direction. The values are persisted as is.
type Direction string

const (
	VerifierToChallenge Direction = "VerifierToChallenge"
	ChallengeToVerifier Direction = "ChallengeToVerifier"
	Encode              Direction = "Encode"
	Decode              Direction = "Decode"
)

// Mode is the option snapshot a conversion runs with. It is a value type and
// is copied into every request.
type Mode struct {
	Direction Direction
	Encoding  codec.TextEncoding
}

func (m Mode) String() string {
	return fmt.Sprintf("%s/%s", m.Direction, m.Encoding)
}

// ModePolicy says how a session reacts to mode changes.
type ModePolicy struct {
	// ReconvertOnEncoding re-runs the current input when the text encoding changes.
	ReconvertOnEncoding bool
	// SwapOnDirection moves the current output into the input when the
	// direction flips, then converts it.
	SwapOnDirection bool
}

// Tool is one conversion tool.
type Tool interface {
	Name() string
	DisplayName() string
	Description() string
	Group() string
	Order() int
	Keywords() []string
	Directions() []Direction
	DefaultMode() Mode
	Policy() ModePolicy
	// CanHandle reports whether data is a plausible input for this tool.
	CanHandle(data string) bool
	// Convert runs the codec selected by mode.
	Convert(ctx context.Context, input string, mode Mode) (string, error)
	// Languages returns display hints for the input and output editors.
	Languages(mode Mode) (input, output string)
}

// Base holds the descriptive fields shared by every tool.
type Base struct {
	NameValue        string
	DisplayNameValue string
	DescriptionValue string
	GroupValue       string
	OrderValue       int
	KeywordsValue    []string
	DirectionsValue  []Direction
	DefaultModeValue Mode
	PolicyValue      ModePolicy
}

func (b *Base) Name() string            { return b.NameValue }
func (b *Base) DisplayName() string     { return b.DisplayNameValue }
func (b *Base) Description() string     { return b.DescriptionValue }
func (b *Base) Group() string           { return b.GroupValue }
func (b *Base) Order() int              { return b.OrderValue }
func (b *Base) Keywords() []string      { return b.KeywordsValue }
func (b *Base) Directions() []Direction { return b.DirectionsValue }
func (b *Base) DefaultMode() Mode       { return b.DefaultModeValue }
func (b *Base) Policy() ModePolicy      { return b.PolicyValue }

// SupportsDirection reports whether d is one of t's directions.
func SupportsDirection(t Tool, d Direction) bool {
	return slices.Contains(t.Directions(), d)
}

// ValidateMode checks that m can be used with t.
func ValidateMode(t Tool, m Mode) error {
	if !SupportsDirection(t, m.Direction) {
		return fmt.Errorf("tool %s does not support direction %q", t.Name(), m.Direction)
	}
	return nil
}

// ParseDirection matches s against t's directions, ignoring case.
func ParseDirection(t Tool, s string) (Direction, error) {
	s = strings.TrimSpace(s)
	for _, d := range t.Directions() {
		if strings.EqualFold(string(d), s) {
			return d, nil
		}
	}
	return "", fmt.Errorf("tool %s does not support direction %q", t.Name(), s)
}
