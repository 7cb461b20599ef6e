package orders

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicPaymentRecorded    = "order.payment_recorded"
	TopicOrderDeleted       = "order.deleted"
	TopicReviewSubmitted    = "review.submitted"
	TopicStockReserved      = "stock.reserved"
	TopicStockRejected      = "stock.rejected"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
