package prescriptions

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
)

// PrescriptionContract manages multi-medication prescriptions through their
// dispensing, refill, and expiry lifecycle.
type PrescriptionContract struct {
	contractapi.Contract
}

const (
	docType   = "prescription"
	keyPrefix = "rx_"

	StatusActive    = "active"
	StatusDispensed = "dispensed"
	StatusCancelled = "cancelled"

	// expiryGraceDays is the buffer added past the longest medication course
	// when deriving the expiry date.
	expiryGraceDays = 30
)

// Medication is one line item on a prescription. RefillsRemaining starts at
// RefillsAllowed and only ever decreases, never below zero.
type Medication struct {
	Name                string   `json:"name"`
	Dosage              string   `json:"dosage"`
	Frequency           string   `json:"frequency"`
	DurationDays        int      `json:"durationDays"`
	Quantity            int      `json:"quantity"`
	RefillsAllowed      int      `json:"refillsAllowed"`
	RefillsRemaining    int      `json:"refillsRemaining"`
	Instructions        string   `json:"instructions,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	SubstitutionAllowed bool     `json:"substitutionAllowed"`
}

// DispensingRecord is one append-only dispensing event.
type DispensingRecord struct {
	PharmacyID  string         `json:"pharmacyId"`
	DispensedBy string         `json:"dispensedBy"`
	Quantities  map[string]int `json:"quantities"`
	Partial     bool           `json:"partial"`
	DispensedAt time.Time      `json:"dispensedAt"`
	TxID        string         `json:"txId"`
}

// RefillEntry is one append-only refill event for a single medication.
type RefillEntry struct {
	MedicationName string    `json:"medicationName"`
	PharmacyID     string    `json:"pharmacyId"`
	RefilledBy     string    `json:"refilledBy"`
	RefilledAt     time.Time `json:"refilledAt"`
	TxID           string    `json:"txId"`
}

// Note is one append-only free-text annotation.
type Note struct {
	Author  string    `json:"author"`
	Text    string    `json:"text"`
	AddedAt time.Time `json:"addedAt"`
	TxID    string    `json:"txId"`
}

// Prescription is the on-ledger prescription document. The expiry date is
// derived from the transaction timestamp and the longest medication course,
// so every peer computes the same value.
type Prescription struct {
	DocType           string             `json:"docType"`
	PrescriptionID    string             `json:"prescriptionId"`
	PatientID         string             `json:"patientId"`
	DoctorID          string             `json:"doctorId"`
	Medications       []Medication       `json:"medications"`
	Diagnosis         string             `json:"diagnosis"`
	AppointmentID     string             `json:"appointmentId,omitempty"`
	Status            string             `json:"status"`
	IssuedDate        time.Time          `json:"issuedDate"`
	ExpiryDate        time.Time          `json:"expiryDate"`
	DispensingRecords []DispensingRecord `json:"dispensingRecords"`
	RefillHistory     []RefillEntry      `json:"refillHistory"`
	Notes             []Note             `json:"notes"`
	CancelReason      string             `json:"cancelReason,omitempty"`
	CancelledBy       string             `json:"cancelledBy,omitempty"`
	CancelledAt       *time.Time         `json:"cancelledAt,omitempty"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// MedicationRefillability is the per-medication slice of a validity report.
type MedicationRefillability struct {
	Name             string `json:"name"`
	RefillsRemaining int    `json:"refillsRemaining"`
	Refillable       bool   `json:"refillable"`
}

// PrescriptionValidity is the read-only report returned by
// VerifyPrescription.
type PrescriptionValidity struct {
	Valid       bool                      `json:"valid"`
	Expired     bool                      `json:"expired"`
	Status      string                    `json:"status"`
	Medications []MedicationRefillability `json:"medications"`
	CheckedAt   time.Time                 `json:"checkedAt"`
}

// PagedPrescriptions carries one page of prescriptions plus the next cursor.
type PagedPrescriptions struct {
	Records  []*Prescription `json:"records"`
	Bookmark string          `json:"bookmark"`
}

// CreatePrescription issues a new prescription. Medications arrive as a JSON
// array so a single invocation carries the full set atomically.
func (p *PrescriptionContract) CreatePrescription(ctx contractapi.TransactionContextInterface, prescriptionID, patientID, doctorID, medicationsJSON, diagnosis, appointmentID string) error {
	if err := base.Require("prescriptionId", prescriptionID); err != nil {
		return err
	}
	if err := base.Require("patientId", patientID); err != nil {
		return err
	}
	if err := base.Require("doctorId", doctorID); err != nil {
		return err
	}

	var medications []Medication
	if err := json.Unmarshal([]byte(medicationsJSON), &medications); err != nil {
		return base.NewValidationError("INVALID_MEDICATIONS", "medications must be a JSON array: %v", err)
	}
	if len(medications) == 0 {
		return base.NewValidationError("INVALID_MEDICATIONS", "at least one medication is required")
	}

	maxDuration := 0
	for i := range medications {
		if err := validateMedication(&medications[i]); err != nil {
			return err
		}
		medications[i].RefillsRemaining = medications[i].RefillsAllowed
		if medications[i].DurationDays > maxDuration {
			maxDuration = medications[i].DurationDays
		}
	}

	existing, err := ctx.GetStub().GetState(keyPrefix + prescriptionID)
	if err != nil {
		return fmt.Errorf("failed to read from world state: %v", err)
	}
	if existing != nil {
		return base.NewDuplicateIDError("DUPLICATE_PRESCRIPTION", "prescription %s already exists", prescriptionID)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	prescription := Prescription{
		DocType:           docType,
		PrescriptionID:    prescriptionID,
		PatientID:         patientID,
		DoctorID:          doctorID,
		Medications:       medications,
		Diagnosis:         diagnosis,
		AppointmentID:     appointmentID,
		Status:            StatusActive,
		IssuedDate:        txTime,
		ExpiryDate:        txTime.AddDate(0, 0, maxDuration+expiryGraceDays),
		DispensingRecords: []DispensingRecord{},
		RefillHistory:     []RefillEntry{},
		Notes:             []Note{},
		UpdatedAt:         txTime,
	}

	if err := p.putPrescription(ctx, &prescription); err != nil {
		return err
	}

	return emitPrescriptionEvent(ctx, "PrescriptionCreated", prescriptionID, txTime)
}

// DispensePrescription records a dispensing event. Quantities arrive as a
// JSON object keyed by medication name. A full dispensing closes the
// prescription; a partial one leaves it active for the remainder.
func (p *PrescriptionContract) DispensePrescription(ctx contractapi.TransactionContextInterface, prescriptionID, pharmacyID, dispensedBy, quantitiesJSON string, partial bool) error {
	if err := base.Require("pharmacyId", pharmacyID); err != nil {
		return err
	}

	prescription, err := p.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}
	if err := checkDispensable(prescription, txTime); err != nil {
		return err
	}

	var quantities map[string]int
	if err := json.Unmarshal([]byte(quantitiesJSON), &quantities); err != nil {
		return base.NewValidationError("INVALID_QUANTITIES", "quantities must be a JSON object of medication name to count: %v", err)
	}
	for name, quantity := range quantities {
		if findMedication(prescription, name) == nil {
			return base.NewValidationError("UNKNOWN_MEDICATION", "prescription %s has no medication %q", prescriptionID, name)
		}
		if quantity <= 0 {
			return base.NewValidationError("INVALID_QUANTITIES", "quantity for %q must be positive, got %d", name, quantity)
		}
	}

	prescription.DispensingRecords = append(prescription.DispensingRecords, DispensingRecord{
		PharmacyID:  pharmacyID,
		DispensedBy: dispensedBy,
		Quantities:  quantities,
		Partial:     partial,
		DispensedAt: txTime,
		TxID:        ctx.GetStub().GetTxID(),
	})
	if !partial {
		prescription.Status = StatusDispensed
	}
	prescription.UpdatedAt = txTime

	if err := p.putPrescription(ctx, prescription); err != nil {
		return err
	}

	return emitPrescriptionEvent(ctx, "PrescriptionDispensed", prescriptionID, txTime)
}

// RefillPrescription decrements remaining refills and appends to the refill
// history. An empty medicationName refills every medication that still has
// refills left.
func (p *PrescriptionContract) RefillPrescription(ctx contractapi.TransactionContextInterface, prescriptionID, medicationName, pharmacyID, refilledBy string) error {
	prescription, err := p.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}
	if prescription.Status == StatusCancelled {
		return base.NewInvalidTransitionError("PRESCRIPTION_CANCELLED", "prescription %s is cancelled", prescriptionID)
	}
	if !txTime.Before(prescription.ExpiryDate) {
		return base.NewBusinessRuleError("PRESCRIPTION_EXPIRED", "prescription %s expired at %s", prescriptionID, prescription.ExpiryDate.Format(time.RFC3339))
	}

	txID := ctx.GetStub().GetTxID()
	refilled := 0
	for i := range prescription.Medications {
		medication := &prescription.Medications[i]
		if medicationName != "" && medication.Name != medicationName {
			continue
		}
		if medicationName != "" && medication.RefillsRemaining == 0 {
			return base.NewBusinessRuleError("NO_REFILLS_REMAINING", "medication %q on prescription %s has no refills remaining", medicationName, prescriptionID)
		}
		if medication.RefillsRemaining == 0 {
			continue
		}
		medication.RefillsRemaining--
		prescription.RefillHistory = append(prescription.RefillHistory, RefillEntry{
			MedicationName: medication.Name,
			PharmacyID:     pharmacyID,
			RefilledBy:     refilledBy,
			RefilledAt:     txTime,
			TxID:           txID,
		})
		refilled++
	}

	if refilled == 0 {
		if medicationName != "" {
			return base.NewValidationError("UNKNOWN_MEDICATION", "prescription %s has no medication %q", prescriptionID, medicationName)
		}
		return base.NewBusinessRuleError("NO_REFILLS_REMAINING", "prescription %s has no refills remaining on any medication", prescriptionID)
	}

	prescription.UpdatedAt = txTime
	if err := p.putPrescription(ctx, prescription); err != nil {
		return err
	}

	return emitPrescriptionEvent(ctx, "PrescriptionRefilled", prescriptionID, txTime)
}

// CancelPrescription cancels an active prescription.
func (p *PrescriptionContract) CancelPrescription(ctx contractapi.TransactionContextInterface, prescriptionID, reason, cancelledBy string) error {
	if err := base.Require("reason", reason); err != nil {
		return err
	}

	prescription, err := p.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return err
	}
	if prescription.Status != StatusActive {
		return base.NewInvalidTransitionError("INVALID_TRANSITION", "prescription %s is %s and cannot be cancelled", prescriptionID, prescription.Status)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	prescription.Status = StatusCancelled
	prescription.CancelReason = reason
	prescription.CancelledBy = cancelledBy
	prescription.CancelledAt = &txTime
	prescription.UpdatedAt = txTime

	if err := p.putPrescription(ctx, prescription); err != nil {
		return err
	}

	return emitPrescriptionEvent(ctx, "PrescriptionCancelled", prescriptionID, txTime)
}

// VerifyPrescription reports validity against the transaction timestamp
// without mutating state.
func (p *PrescriptionContract) VerifyPrescription(ctx contractapi.TransactionContextInterface, prescriptionID string) (*PrescriptionValidity, error) {
	prescription, err := p.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return nil, err
	}

	expired := !txTime.Before(prescription.ExpiryDate)
	valid := prescription.Status == StatusActive && !expired

	medications := make([]MedicationRefillability, 0, len(prescription.Medications))
	for _, medication := range prescription.Medications {
		medications = append(medications, MedicationRefillability{
			Name:             medication.Name,
			RefillsRemaining: medication.RefillsRemaining,
			Refillable:       valid && medication.RefillsRemaining > 0,
		})
	}

	return &PrescriptionValidity{
		Valid:       valid,
		Expired:     expired,
		Status:      prescription.Status,
		Medications: medications,
		CheckedAt:   txTime,
	}, nil
}

// AddPrescriptionNote appends a free-text note. Notes are annotations, not
// lifecycle actions, so any status accepts them.
func (p *PrescriptionContract) AddPrescriptionNote(ctx contractapi.TransactionContextInterface, prescriptionID, author, text string) error {
	if err := base.Require("text", text); err != nil {
		return err
	}

	prescription, err := p.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	prescription.Notes = append(prescription.Notes, Note{
		Author:  author,
		Text:    text,
		AddedAt: txTime,
		TxID:    ctx.GetStub().GetTxID(),
	})
	prescription.UpdatedAt = txTime

	if err := p.putPrescription(ctx, prescription); err != nil {
		return err
	}

	return emitPrescriptionEvent(ctx, "PrescriptionNoteAdded", prescriptionID, txTime)
}

// GetPrescription retrieves a prescription by ID.
func (p *PrescriptionContract) GetPrescription(ctx contractapi.TransactionContextInterface, prescriptionID string) (*Prescription, error) {
	prescriptionJSON, err := ctx.GetStub().GetState(keyPrefix + prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if prescriptionJSON == nil {
		return nil, base.NewNotFoundError("PRESCRIPTION_NOT_FOUND", "prescription %s does not exist", prescriptionID)
	}

	var prescription Prescription
	if err := json.Unmarshal(prescriptionJSON, &prescription); err != nil {
		return nil, err
	}

	return &prescription, nil
}

// GetPrescriptionsByPatient returns one page of a patient's prescriptions,
// newest first.
func (p *PrescriptionContract) GetPrescriptionsByPatient(ctx contractapi.TransactionContextInterface, patientID string, pageSize int, bookmark string) (*PagedPrescriptions, error) {
	if pageSize <= 0 {
		return nil, base.NewValidationError("INVALID_PAGE_SIZE", "pageSize must be positive, got %d", pageSize)
	}

	query := base.Selector(map[string]interface{}{
		"docType":   docType,
		"patientId": patientID,
	})

	values, nextBookmark, err := base.QueryPage(ctx, query, int32(pageSize), bookmark)
	if err != nil {
		return nil, err
	}

	prescriptions, err := unmarshalPrescriptions(values)
	if err != nil {
		return nil, err
	}
	sortPrescriptions(prescriptions)

	return &PagedPrescriptions{Records: prescriptions, Bookmark: nextBookmark}, nil
}

// GetActivePrescriptionsByDoctor returns a doctor's open prescriptions,
// newest first.
func (p *PrescriptionContract) GetActivePrescriptionsByDoctor(ctx contractapi.TransactionContextInterface, doctorID string) ([]*Prescription, error) {
	query := base.Selector(map[string]interface{}{
		"docType":  docType,
		"doctorId": doctorID,
		"status":   StatusActive,
	})

	values, err := base.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}

	prescriptions, err := unmarshalPrescriptions(values)
	if err != nil {
		return nil, err
	}
	sortPrescriptions(prescriptions)

	return prescriptions, nil
}

func checkDispensable(prescription *Prescription, txTime time.Time) error {
	switch prescription.Status {
	case StatusCancelled:
		return base.NewInvalidTransitionError("PRESCRIPTION_CANCELLED", "prescription %s is cancelled", prescription.PrescriptionID)
	case StatusDispensed:
		return base.NewInvalidTransitionError("PRESCRIPTION_ALREADY_DISPENSED", "prescription %s is fully dispensed", prescription.PrescriptionID)
	}
	if !txTime.Before(prescription.ExpiryDate) {
		return base.NewBusinessRuleError("PRESCRIPTION_EXPIRED", "prescription %s expired at %s", prescription.PrescriptionID, prescription.ExpiryDate.Format(time.RFC3339))
	}
	return nil
}

func validateMedication(medication *Medication) error {
	if err := base.Require("medication name", medication.Name); err != nil {
		return err
	}
	if err := base.Require("dosage", medication.Dosage); err != nil {
		return err
	}
	if err := base.Require("frequency", medication.Frequency); err != nil {
		return err
	}
	if medication.DurationDays <= 0 {
		return base.NewValidationError("INVALID_MEDICATIONS", "durationDays for %q must be positive, got %d", medication.Name, medication.DurationDays)
	}
	if medication.Quantity <= 0 {
		return base.NewValidationError("INVALID_MEDICATIONS", "quantity for %q must be positive, got %d", medication.Name, medication.Quantity)
	}
	if medication.RefillsAllowed < 0 {
		return base.NewValidationError("INVALID_MEDICATIONS", "refillsAllowed for %q must not be negative, got %d", medication.Name, medication.RefillsAllowed)
	}
	return nil
}

func findMedication(prescription *Prescription, name string) *Medication {
	for i := range prescription.Medications {
		if prescription.Medications[i].Name == name {
			return &prescription.Medications[i]
		}
	}
	return nil
}

func (p *PrescriptionContract) putPrescription(ctx contractapi.TransactionContextInterface, prescription *Prescription) error {
	prescriptionJSON, err := json.Marshal(prescription)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(keyPrefix+prescription.PrescriptionID, prescriptionJSON); err != nil {
		return fmt.Errorf("failed to put prescription to world state: %v", err)
	}
	return nil
}

func unmarshalPrescriptions(values [][]byte) ([]*Prescription, error) {
	var prescriptions []*Prescription
	for _, value := range values {
		var prescription Prescription
		if err := json.Unmarshal(value, &prescription); err != nil {
			return nil, err
		}
		prescriptions = append(prescriptions, &prescription)
	}
	return prescriptions, nil
}

func sortPrescriptions(prescriptions []*Prescription) {
	sort.Slice(prescriptions, func(i, j int) bool {
		if !prescriptions[i].IssuedDate.Equal(prescriptions[j].IssuedDate) {
			return prescriptions[i].IssuedDate.After(prescriptions[j].IssuedDate)
		}
		return prescriptions[i].PrescriptionID < prescriptions[j].PrescriptionID
	})
}

func emitPrescriptionEvent(ctx contractapi.TransactionContextInterface, name, prescriptionID string, txTime time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"prescriptionId": prescriptionID,
		"timestamp":      txTime.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := ctx.GetStub().SetEvent(name, payload); err != nil {
		return fmt.Errorf("failed to emit event: %v", err)
	}
	return nil
}
