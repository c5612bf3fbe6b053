package outbox

// Event is the domain event envelope written to the outbox table in the same
// transaction as the state change it describes. The Kafka topic name equals
// EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Lifecycle event types published by the scheduling engine.
const (
	EventAppointmentBooked      = "scheduling.appointment.booked.v1"
	EventAppointmentConfirmed   = "scheduling.appointment.confirmed.v1"
	EventAppointmentCancelled   = "scheduling.appointment.cancelled.v1"
	EventAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	EventPeriodBlocked          = "scheduling.period.blocked.v1"
	EventPeriodUnblocked        = "scheduling.period.unblocked.v1"
)
