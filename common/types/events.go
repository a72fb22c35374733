package types

// TransactionEventKind names a lifecycle transition observed through the
// indexers. The prefix states which side of the transfer moved.
type TransactionEventKind string

const (
	// EventSenderPrepared fires when the user locks funds on the sending chain.
	EventSenderPrepared TransactionEventKind = "SenderTransactionPrepared"

	// EventSenderFulfilled fires when the router claims on the sending chain.
	EventSenderFulfilled TransactionEventKind = "SenderTransactionFulfilled"

	// EventSenderCancelled fires when the sender-side lock is cancelled.
	EventSenderCancelled TransactionEventKind = "SenderTransactionCancelled"

	// EventReceiverPrepared fires when the router locks funds on the receiving chain.
	EventReceiverPrepared TransactionEventKind = "ReceiverTransactionPrepared"

	// EventReceiverFulfilled fires when the user claims on the receiving chain.
	EventReceiverFulfilled TransactionEventKind = "ReceiverTransactionFulfilled"

	// EventReceiverCancelled fires when the receiver-side lock is cancelled.
	EventReceiverCancelled TransactionEventKind = "ReceiverTransactionCancelled"
)

// TransactionEvent is one lifecycle transition of a tracked transfer,
// delivered to the lifecycle handlers after each indexer poll.
//
// Fields:
// - Kind: the transition that was observed.
// - Record: the record of the side the transition happened on.
// - Counterpart: the other side's record when the indexer has one, else nil.
type TransactionEvent struct {
	Kind        TransactionEventKind
	Record      *TransactionRecord
	Counterpart *TransactionRecord
}

// TransactionID returns the transfer id the event belongs to.
func (e *TransactionEvent) TransactionID() string {
	return e.Record.Invariant.TransactionID
}
