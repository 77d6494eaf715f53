// internal/models/batch.go
package models

import "time"

// ApprovalStatus is the FDA disposition of a batch submission.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "Pending"
	StatusApproved ApprovalStatus = "Approved"
	StatusRejected ApprovalStatus = "Rejected"
)

// Valid reports whether s is one of the known dispositions.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// ShipmentStatus is the logistics state of an approved batch. The zero value
// means the batch has no shipment yet.
type ShipmentStatus string

const (
	ShipmentNone                     ShipmentStatus = ""
	ShipmentPendingDistributorPickup ShipmentStatus = "Pending Distributor Pickup"
	ShipmentDispatching              ShipmentStatus = "Dispatching"
	ShipmentInTransitToPharmacy      ShipmentStatus = "In Transit to Pharmacy"
	ShipmentDeliveredToPharmacy      ShipmentStatus = "Delivered to Pharmacy"
)

// Valid reports whether s is a known shipment state. ShipmentNone is not valid.
func (s ShipmentStatus) Valid() bool {
	switch s {
	case ShipmentPendingDistributorPickup, ShipmentDispatching, ShipmentInTransitToPharmacy, ShipmentDeliveredToPharmacy:
		return true
	}
	return false
}

// TransitionEvent is one entry of a batch's traceability timeline.
type TransitionEvent struct {
	Action    string    `bson:"action" json:"action"`
	From      string    `bson:"from" json:"from"`
	To        string    `bson:"to" json:"to"`
	ActorID   string    `bson:"actorId" json:"actorId"`
	ActorRole Role      `bson:"actorRole" json:"actorRole"`
	At        time.Time `bson:"at" json:"at"`
}

// BatchRecord matches a document in the fda_approvals collection.
type BatchRecord struct {
	ID               string            `bson:"_id" json:"id"`
	DrugName         string            `bson:"drugName" json:"drugName"`
	DrugDetails      string            `bson:"drugDetails" json:"drugDetails"`
	BatchNumber      string            `bson:"batchNumber" json:"batchNumber"`
	SampleCount      int               `bson:"sampleCount" json:"sampleCount"`
	Temperature      string            `bson:"temperature" json:"temperature"`
	Humidity         string            `bson:"humidity" json:"humidity"`
	TamperStatus     string            `bson:"tamperStatus" json:"tamperStatus"`
	ManufacturerID   string            `bson:"manufacturerId" json:"manufacturerId"`
	ManufacturerName string            `bson:"manufacturerName" json:"manufacturerName"`
	SubmissionDate   time.Time         `bson:"submissionDate" json:"submissionDate"`
	Status           ApprovalStatus    `bson:"status" json:"status"`
	ShipmentStatus   ShipmentStatus    `bson:"shipmentStatus,omitempty" json:"shipmentStatus,omitempty"`
	Version          int64             `bson:"version" json:"version"`
	UpdatedAt        time.Time         `bson:"updatedAt" json:"updatedAt"`
	History          []TransitionEvent `bson:"history,omitempty" json:"history,omitempty"`
}

// Clone returns a copy that shares no slices with r.
func (r BatchRecord) Clone() BatchRecord {
	if r.History != nil {
		h := make([]TransitionEvent, len(r.History))
		copy(h, r.History)
		r.History = h
	}
	return r
}
