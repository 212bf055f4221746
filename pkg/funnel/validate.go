package funnel

import (
	"fmt"
	"regexp"

	"pixfunnel/pkg/money"
)

const (
	maxNameLength  = 120
	maxButtons     = 20
	defaultCeiling = money.Cents(15000)
)

// botTokenRe matches the structural shape of a Telegram bot token:
// numeric bot id, colon, secret part. Existence of the bot is only proven by
// connecting; this just catches pasted garbage early.
var botTokenRe = regexp.MustCompile(`^\d{6,12}:[A-Za-z0-9_-]{30,50}$`)

// Validate checks the invariants the conversation engine relies on for
// well-formed funnels. Ceiling of 0 means the default 150,00.
func Validate(f *Funnel, ceiling money.Cents) error {
	if ceiling <= 0 {
		ceiling = defaultCeiling
	}

	if f.Name == "" {
		return fmt.Errorf("funnel name is required")
	}
	if len(f.Name) > maxNameLength {
		return fmt.Errorf("funnel name exceeds %d characters", maxNameLength)
	}
	if f.WelcomeMessage == "" {
		return fmt.Errorf("welcome message is required")
	}
	if len(f.Buttons) == 0 {
		return fmt.Errorf("funnel needs at least one button")
	}
	if len(f.Buttons) > maxButtons {
		return fmt.Errorf("funnel exceeds %d buttons", maxButtons)
	}

	names := make(map[string]bool, len(f.Buttons))
	ids := make(map[string]bool, len(f.Buttons))
	for i := range f.Buttons {
		b := &f.Buttons[i]
		if err := validateButton(b, ceiling); err != nil {
			return fmt.Errorf("button %q: %w", b.Name, err)
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate button name %q", b.Name)
		}
		names[b.Name] = true
		if ids[b.ID] {
			return fmt.Errorf("duplicate button id %q", b.ID)
		}
		ids[b.ID] = true
	}

	return nil
}

func validateButton(b *Button, ceiling money.Cents) error {
	if b.ID == "" {
		return fmt.Errorf("button id is required")
	}
	if b.Name == "" {
		return fmt.Errorf("button name is required")
	}

	if !b.GeneratePIX && b.Link == "" {
		return fmt.Errorf("button has neither PIX generation nor a link")
	}
	if b.GeneratePIX && b.Link != "" {
		return fmt.Errorf("button cannot have both PIX generation and a link")
	}

	if b.GeneratePIX {
		amount, err := money.ParseBRL(b.Value)
		if err != nil {
			return fmt.Errorf("value %q is not a valid amount: %w", b.Value, err)
		}
		if amount <= 0 {
			return fmt.Errorf("value must be positive, got %s", amount.Format())
		}
		if amount > ceiling {
			return fmt.Errorf("value %s exceeds the %s ceiling", amount.Format(), ceiling.Format())
		}
	}

	if b.Orderbump != nil {
		if b.Orderbump.Title == "" {
			return fmt.Errorf("orderbump title is required")
		}
		amount, err := money.ParseBRL(b.Orderbump.Value)
		if err != nil {
			return fmt.Errorf("orderbump value %q is not a valid amount: %w", b.Orderbump.Value, err)
		}
		if amount <= 0 {
			return fmt.Errorf("orderbump value must be positive")
		}
	}

	return nil
}

// ValidateBotToken structurally checks a Telegram bot token.
func ValidateBotToken(token string) error {
	if token == "" {
		return fmt.Errorf("bot token is required")
	}
	if !botTokenRe.MatchString(token) {
		return fmt.Errorf("bot token does not look like a Telegram token")
	}
	return nil
}
