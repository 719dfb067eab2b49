package service

// Event names pushed to connected clients on every state change.
const (
	EventCartExpired    = "CartExpired"    // payload: cart id
	EventProductUpdated = "ProductUpdated" // payload: product snapshot
	EventProductDeleted = "ProductDeleted" // payload: product snapshot
)

// Notifier is the broadcast sink for the events above. Publish must not
// block: delivery is best-effort and never rolls back a committed change.
type Notifier interface {
	Publish(event string, payload interface{})
}
