// Package scenario holds the built-in role-play situations a learner can
// practice.
package scenario

import "sort"

// DefaultID is used when no scenario is selected.
const DefaultID = "cafe"

// Scenario is one practice situation. Prompt is passed to the live session
// verbatim.
type Scenario struct {
	ID     string
	Title  string
	Prompt string
}

// Catalog is a fixed set of scenarios keyed by id.
type Catalog struct {
	byID map[string]Scenario
}

var builtin = []Scenario{
	{
		ID:     "cafe",
		Title:  "At a coffee shop",
		Prompt: "You are a barista at a busy neighbourhood coffee shop. Greet the customer, take their order, suggest a pastry and tell them the price.",
	},
	{
		ID:     "hotel",
		Title:  "Hotel check-in",
		Prompt: "You are a hotel receptionist. The guest is checking in. Ask for their name and reservation, explain breakfast times and answer questions about the room.",
	},
	{
		ID:     "doctor",
		Title:  "At the doctor",
		Prompt: "You are a friendly family doctor. The patient has come in feeling unwell. Ask about their symptoms, how long they have had them, and give simple advice.",
	},
	{
		ID:     "market",
		Title:  "Shopping at the market",
		Prompt: "You are a fruit and vegetable seller at an open-air market. Help the customer choose produce, tell them prices per kilo and let them bargain a little.",
	},
	{
		ID:     "interview",
		Title:  "Job interview",
		Prompt: "You are interviewing the user for a job at a small company. Ask about their experience, strengths and why they want the job. Keep questions short.",
	},
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	c := &Catalog{byID: make(map[string]Scenario, len(builtin))}
	for _, s := range builtin {
		c.byID[s.ID] = s
	}
	return c
}

// Get looks up a scenario by id.
func (c *Catalog) Get(id string) (Scenario, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// IDs lists every scenario id in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
