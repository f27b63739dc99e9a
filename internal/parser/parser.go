// Package parser turns free-text payment commands into an amount and a
// recipient handle. Strategies are pluggable; the regex strategy is always
// available and a Chain tries strategies in order.
package parser

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"pingpay/backend/internal/models"
)

// ErrUnrecognized is returned when no strategy understood the text
var ErrUnrecognized = errors.New(`could not understand command, try something like "send 0.01 eth to @username"`)

// Command is a parsed payment instruction
type Command struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// Parser extracts a payment command from free text
type Parser interface {
	Parse(ctx context.Context, text string) (*Command, error)
}

type pattern struct {
	re          *regexp.Regexp
	amountFirst bool
	description string
}

// Patterns are tried in order; the first match wins.
var patterns = []pattern{
	{
		re:          regexp.MustCompile(`(?i)(?:send|pay|transfer|give)\s+(\d+(?:\.\d+)?)\s*(?:eth)?\s+to\s+@?(\w+)`),
		amountFirst: true,
		description: "verb amount to recipient",
	},
	{
		re:          regexp.MustCompile(`(?i)(?:send|pay|transfer|give)\s+@?(\w+)\s+(\d+(?:\.\d+)?)\s*(?:eth)?`),
		description: "verb recipient amount",
	},
	{
		re:          regexp.MustCompile(`(?i)@(\w+)\s+.*?(\d+(?:\.\d+)?)\s*(?:eth)?`),
		description: "@recipient ... amount",
	},
	{
		re:          regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:eth)?\s+.*?@(\w+)`),
		amountFirst: true,
		description: "amount ... @recipient",
	},
}

// RegexParser recognizes the common "send 0.01 eth to @alice" phrasings
type RegexParser struct{}

// NewRegexParser creates a regex parser
func NewRegexParser() *RegexParser {
	return &RegexParser{}
}

// Parse implements Parser
func (p *RegexParser) Parse(ctx context.Context, text string) (*Command, error) {
	for _, pat := range patterns {
		m := pat.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}

		amount, recipient := m[1], m[2]
		if !pat.amountFirst {
			amount, recipient = m[2], m[1]
		}

		// "send 0.5 to" matches the recipient-first pattern with a numeric handle
		if isNumeric(recipient) {
			continue
		}

		return &Command{
			Amount:    amount,
			Recipient: models.NormalizeHandle(recipient),
		}, nil
	}

	return nil, ErrUnrecognized
}

// Chain tries each parser in order and returns the first success
type Chain struct {
	parsers []Parser
	logger  *zap.Logger
}

// NewChain creates a parser chain
func NewChain(logger *zap.Logger, parsers ...Parser) *Chain {
	return &Chain{
		parsers: parsers,
		logger:  logger.Named("parser"),
	}
}

// Parse implements Parser
func (c *Chain) Parse(ctx context.Context, text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.Validationf("command text is required")
	}

	for _, p := range c.parsers {
		cmd, err := p.Parse(ctx, text)
		if err == nil {
			return cmd, nil
		}
		if !errors.Is(err, ErrUnrecognized) {
			c.logger.Warn("Parser strategy failed, trying next", zap.Error(err))
		}
	}

	return nil, ErrUnrecognized
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return s != ""
}
