package customer

import "strings"

// Customer is the person an order is placed for.
type Customer struct {
	FirstName string
	LastName  string
}

// FullName returns the first and last name separated by a space.
func (c Customer) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}
