package models

// DateLayout is the ISO-8601 layout used for expense dates (UTC, millisecond precision).
const DateLayout = "2006-01-02T15:04:05.000Z"

type Expense struct {
	ID          string  `json:"id" validate:"required"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description" validate:"max=500"`
	Date        string  `json:"date" validate:"required,isodate"`
}

type Category struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Icon     string    `json:"icon"`
	Color    string    `json:"color"`
	Expenses []Expense `json:"expenses"`
}

// Total sums the amounts of every expense in the category.
func (c Category) Total() float64 {
	var total float64
	for _, e := range c.Expenses {
		total += e.Amount
	}
	return total
}

// FindExpense returns the expense with the given id, or nil.
func (c Category) FindExpense(id string) *Expense {
	for i := range c.Expenses {
		if c.Expenses[i].ID == id {
			return &c.Expenses[i]
		}
	}
	return nil
}

// NewCategory carries the caller-supplied fields of a category. Id and expenses are
// always assigned by the store.
type NewCategory struct {
	Name  string `json:"name" validate:"required,min=1,max=100"`
	Icon  string `json:"icon" validate:"omitempty,icon"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

// CategoryUpdate is a partial update. Nil fields are left untouched.
type CategoryUpdate struct {
	Name     *string    `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Icon     *string    `json:"icon,omitempty" validate:"omitempty,icon"`
	Color    *string    `json:"color,omitempty" validate:"omitempty,hexcolor"`
	Expenses *[]Expense `json:"expenses,omitempty" validate:"omitempty,dive"`
}

// Empty reports whether the update carries no fields.
func (u CategoryUpdate) Empty() bool {
	return u.Name == nil && u.Icon == nil && u.Color == nil && u.Expenses == nil
}

// NewExpense is an expense as supplied by a caller. Date is optional.
type NewExpense struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description" validate:"max=500"`
	Date        string  `json:"date" validate:"omitempty,isodate"`
}
