package model

// Address is a delivery address owned by a user.  City and Emirate
// default to Dubai.
type Address struct {
	ID            uint64 `json:"id"`
	FullName      string `json:"full_name"`
	PhoneNumber   string `json:"phone_number"`
	StreetAddress string `json:"street_address"`
	Building      string `json:"building"`
	Area          string `json:"area"`
	City          string `json:"city"`
	Emirate       string `json:"emirate"`
	PostalCode    string `json:"postal_code"`
	IsDefault     bool   `json:"is_default"`
}
