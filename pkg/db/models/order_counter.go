package models

// OrderCounter is the singleton row backing sequential order numbers.
// Incremented with a guarded UPDATE inside the checkout transaction.
type OrderCounter struct {
	ID        int   `gorm:"column:id;primaryKey"`
	NextValue int64 `gorm:"column:next_value;not null"`
}
