package model

// AtomicUnit is the tagged sum the spec's REDESIGN FLAGS mandate in place of
// dynamic attribute decoration (the source's `_structure_info`): every
// downstream component (Distributor, download workflow, forward pipeline)
// operates exclusively at this granularity and never inspects a Message's
// group-id directly.
type AtomicUnit interface {
	// SourceID is the id of the unit's earliest constituent message; used
	// for deterministic tie-breaking and ordering checks.
	SourceID() MessageID
	// Weight is the sum of declared media sizes across the unit's messages.
	Weight() int64
	// Messages returns the unit's constituent messages in source order.
	Messages() []Message
	// GroupID is non-empty for a Group, empty for a Singleton.
	GroupID() string
}

// Singleton wraps a single Message with no group-id.
type Singleton struct {
	Message Message
}

func (s Singleton) SourceID() MessageID  { return s.Message.ID }
func (s Singleton) Weight() int64        { return s.Message.Weight() }
func (s Singleton) Messages() []Message  { return []Message{s.Message} }
func (s Singleton) GroupID() string      { return "" }

// Group wraps an ordered, non-empty run of Messages sharing a group-id
// (spec §3 MediaGroup). Construction is the Grouper's sole responsibility;
// once built a Group is never split by any later component.
type Group struct {
	ID    string
	Items []Message
}

func (g Group) SourceID() MessageID {
	if len(g.Items) == 0 {
		return 0
	}
	return g.Items[0].ID
}

func (g Group) Weight() int64 {
	var total int64
	for _, m := range g.Items {
		total += m.Weight()
	}
	return total
}

func (g Group) Messages() []Message { return g.Items }
func (g Group) GroupID() string     { return g.ID }
