package outbox

// Event is the domain event envelope written to the outbox table in the same
// unit of work as the state change it describes. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	EventSlotCreated              = "booking.slot.created.v1"
	EventAppointmentBooked        = "booking.appointment.booked.v1"
	EventAppointmentDeleted       = "booking.appointment.deleted.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
	EventPaymentCreated           = "payment.created.v1"
	EventPaymentLinkIssued        = "payment.link_issued.v1"
	EventPaymentStatusChanged     = "payment.status_changed.v1"
)
