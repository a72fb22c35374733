package types

// TransactionStatus is the lifecycle status of one side of a transfer as
// reported by the chain's indexer.
type TransactionStatus string

const (
	// StatusPrepared indicates funds are locked and the expiry clock is running.
	StatusPrepared TransactionStatus = "Prepared"

	// StatusFulfilled indicates the lock was released by revealing the user signature.
	StatusFulfilled TransactionStatus = "Fulfilled"

	// StatusCancelled indicates the lock was released back to its funder.
	StatusCancelled TransactionStatus = "Cancelled"
)

// CrosschainStatus summarizes both sides of a transfer for the admin surface.
type CrosschainStatus string

const (
	// StatusSenderPrepared indicates only the sender side is prepared.
	StatusSenderPrepared CrosschainStatus = "SenderPrepared"

	// StatusReceiverPrepared indicates both sides are prepared.
	StatusReceiverPrepared CrosschainStatus = "ReceiverPrepared"

	// StatusReceiverFulfilled indicates the user has claimed on the receiving chain.
	StatusReceiverFulfilled CrosschainStatus = "ReceiverFulfilled"

	// StatusSenderFulfilled indicates the router has claimed on the sending chain.
	StatusSenderFulfilled CrosschainStatus = "SenderFulfilled"

	// StatusReceiverCancelled indicates the receiver side was cancelled.
	StatusReceiverCancelled CrosschainStatus = "ReceiverCancelled"

	// StatusSenderCancelled indicates the sender side was cancelled.
	StatusSenderCancelled CrosschainStatus = "SenderCancelled"
)
