// internal/domain/customer/customer.go
package customer

import (
	"fmt"
	"time"
)

// Section names one of the two policy collections nested under a customer.
type Section string

const (
	SectionHealth  Section = "health"
	SectionVehicle Section = "vehicle"
)

// Field returns the document field holding the section's items.
func (s Section) Field() (string, error) {
	switch s {
	case SectionHealth:
		return "healthDetails", nil
	case SectionVehicle:
		return "vehicles", nil
	default:
		return "", fmt.Errorf("unknown policy section %q", string(s))
	}
}

// HealthPolicy is one health insurance line-item.
type HealthPolicy struct {
	Company        string     `json:"company" bson:"company"`
	Product        string     `json:"product" bson:"product"`
	Expiry         *time.Time `json:"expiry" bson:"expiry"` // nil means the policy never expires
	ReminderSent   bool       `json:"reminderSent" bson:"reminderSent"`
	ReminderSentAt *time.Time `json:"reminderSentAt" bson:"reminderSentAt"`
}

// Label is the descriptive name used in reminder digests.
func (h HealthPolicy) Label() string {
	if h.Product != "" {
		return h.Product
	}
	if h.Company != "" {
		return h.Company
	}
	return "Health Policy"
}

// VehiclePolicy is one vehicle insurance line-item.
type VehiclePolicy struct {
	VehicleNo      string     `json:"vehicleNo" bson:"vehicleNo"`
	PolicyCompany  string     `json:"policyCompany" bson:"policyCompany"`
	PolicyExpiry   *time.Time `json:"policyExpiry" bson:"policyExpiry"`
	ReminderSent   bool       `json:"reminderSent" bson:"reminderSent"`
	ReminderSentAt *time.Time `json:"reminderSentAt" bson:"reminderSentAt"`
}

func (v VehiclePolicy) Label() string {
	if v.PolicyCompany != "" {
		return v.PolicyCompany
	}
	if v.VehicleNo != "" {
		return v.VehicleNo
	}
	return "Vehicle Policy"
}

// Customer is a business record owned by exactly one agent.
// OwnerEmail is resolved from the owning user at read time and is empty
// when the owner cannot be found.
type Customer struct {
	CustomerID    string
	CustomerName  string
	OwnerEmail    string
	HealthDetails []HealthPolicy
	Vehicles      []VehiclePolicy
}

// ItemRef addresses a policy item positionally. Items carry no stable ID,
// so a ref is only valid while the customer's arrays are not restructured.
type ItemRef struct {
	CustomerID string
	Section    Section
	Index      int
}

func (r ItemRef) String() string {
	return fmt.Sprintf("%s/%s[%d]", r.CustomerID, r.Section, r.Index)
}
