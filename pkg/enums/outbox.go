package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregatePayment OutboxAggregateType = "payment"
	AggregatePayout  OutboxAggregateType = "payout"
	AggregateRefund  OutboxAggregateType = "refund"
	AggregateDispute OutboxAggregateType = "dispute"
	AggregateLedger  OutboxAggregateType = "ledger"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePayment,
	AggregatePayout,
	AggregateRefund,
	AggregateDispute,
	AggregateLedger,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated     OutboxEventType = "order.created"
	EventOrderCancelled   OutboxEventType = "order.cancelled"
	EventPaymentConfirmed OutboxEventType = "payment.confirmed"
	EventPaymentFailed    OutboxEventType = "payment.failed"
	EventOrderSettled     OutboxEventType = "order.settled"
	EventPayoutRequested  OutboxEventType = "payout.requested"
	EventPayoutProcessed  OutboxEventType = "payout.processed"
	EventPayoutFailed     OutboxEventType = "payout.failed"
	EventRefundIssued     OutboxEventType = "refund.issued"
	EventDisputeOpened    OutboxEventType = "dispute.opened"
	EventDisputeResolved  OutboxEventType = "dispute.resolved"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderCancelled,
	EventPaymentConfirmed,
	EventPaymentFailed,
	EventOrderSettled,
	EventPayoutRequested,
	EventPayoutProcessed,
	EventPayoutFailed,
	EventRefundIssued,
	EventDisputeOpened,
	EventDisputeResolved,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
