// Package funnel holds the sales funnel definitions served to bot
// conversations, plus the in-memory registry the conversation engine reads.
package funnel

import (
	"sync"

	"pixfunnel/pkg/money"
)

// Funnel is a scripted welcome screen plus its purchase buttons. Funnels are
// immutable once loaded; the registry replaces them wholesale on refresh.
type Funnel struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MediaURL       string   `json:"media_url,omitempty"`
	WelcomeMessage string   `json:"welcome_message"`
	Buttons        []Button `json:"buttons"`
}

// Button is one purchase option. Value is the operator-entered display
// string ("97,00", "R$ 97,00"); it is parsed on demand, never trusted to be
// well formed. Either GeneratePIX or Link is the effective action — PIX wins
// when a parseable positive value is present.
type Button struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Value       string     `json:"value"`
	Link        string     `json:"link,omitempty"`
	GeneratePIX bool       `json:"generate_pix"`
	PIXData     string     `json:"pix_data,omitempty"`
	Orderbump   *Orderbump `json:"orderbump,omitempty"`
}

// Orderbump is a one-time upsell offered before a button's primary action.
type Orderbump struct {
	ID                  string `json:"id"`
	MediaURL            string `json:"media_url,omitempty"`
	Title               string `json:"title"`
	AcceptText          string `json:"accept_text"`
	RejectText          string `json:"reject_text"`
	Value               string `json:"value"`
	MessageAfterPayment string `json:"message_after_payment"`
}

// FindButton returns the button with the given id.
func (f *Funnel) FindButton(buttonID string) (*Button, bool) {
	for i := range f.Buttons {
		if f.Buttons[i].ID == buttonID {
			return &f.Buttons[i], true
		}
	}
	return nil, false
}

// Amount parses the button's display value into cents.
func (b *Button) Amount() (money.Cents, error) {
	return money.ParseBRL(b.Value)
}

// Amount parses the orderbump's display value into cents.
func (o *Orderbump) Amount() (money.Cents, error) {
	return money.ParseBRL(o.Value)
}

// Registry is the shared id→funnel mapping. Writers replace the whole map;
// readers get a consistent snapshot without blocking each other. No partial
// updates, so an in-flight conversation never sees a half-edited funnel.
type Registry struct {
	mu      sync.RWMutex
	funnels map[string]*Funnel
}

func NewRegistry() *Registry {
	return &Registry{
		funnels: make(map[string]*Funnel),
	}
}

// ReplaceAll atomically swaps the entire mapping. Called whenever funnel data
// changes upstream (dashboard save, startup load).
func (r *Registry) ReplaceAll(funnels []Funnel) {
	next := make(map[string]*Funnel, len(funnels))
	for i := range funnels {
		f := funnels[i]
		next[f.ID] = &f
	}

	r.mu.Lock()
	r.funnels = next
	r.mu.Unlock()
}

// Get returns the funnel with the given id.
func (r *Registry) Get(id string) (*Funnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funnels[id]
	return f, ok
}

// All returns a snapshot of the registered funnels.
func (r *Registry) All() []*Funnel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Funnel, 0, len(r.funnels))
	for _, f := range r.funnels {
		out = append(out, f)
	}
	return out
}

// Count returns the number of registered funnels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funnels)
}
