package domain

import (
	"time"
)

// OrderStatus enumerates lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending marks a freshly created order; the only state that permits edits.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing marks an order being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped marks an order handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered marks an order received by the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled marks an order whose reserved stock was released.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned marks a delivered order sent back by the customer.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusRefunded marks a delivered order whose payment was refunded.
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
	OrderStatusRefunded,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Order is the persisted order header. Monetary amounts are minor units.
type Order struct {
	ID              int64
	OrderNumber     string
	UserID          int64
	Status          OrderStatus
	TotalAmount     int64
	DiscountAmount  int64
	TaxAmount       int64
	OrderDate       time.Time
	ShippedDate     *time.Time
	DeliveredDate   *time.Time
	Notes           string
	ShippingAddress string
	UpdatedAt       time.Time
	// Items is populated only when a read explicitly asks for it.
	Items []OrderItem
}

// OrderItem is a single product line owned by an order.
type OrderItem struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	UnitPrice      int64
	Quantity       int
	DiscountAmount int64
}

// GrossPrice returns UnitPrice multiplied by Quantity.
func (i OrderItem) GrossPrice() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// TotalPrice returns the line total net of the item discount.
func (i OrderItem) TotalPrice() int64 {
	return i.GrossPrice() - i.DiscountAmount
}

// Product is the stock-relevant view of a catalog product.
type Product struct {
	ID            int64
	Name          string
	Price         int64
	StockQuantity int
	UpdatedAt     time.Time
}

// User is the identity view consulted by the order workflow.
type User struct {
	ID    int64
	Email string
}

// StockLine pairs a product with a quantity to reserve or release.
type StockLine struct {
	ProductID int64
	Quantity  int
}

// StockLinesFromItems projects order items onto stock lines.
func StockLinesFromItems(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// Page holds one page of results together with the total match count.
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}
