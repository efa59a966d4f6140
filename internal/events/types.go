package events

// Event enumerates the five topics the engine publishes to.
type Event string

const (
	EventStatus    Event = "status"
	EventLog       Event = "log"
	EventMarket    Event = "market"
	EventPortfolio Event = "portfolio"
	EventLedger    Event = "ledger"
)

// droppable reports whether a topic may discard payloads for a slow
// subscriber. market/portfolio are snapshot-style and newest-wins; log and
// ledger must preserve every entry in order.
func (e Event) droppable() bool {
	return e == EventMarket || e == EventPortfolio
}
