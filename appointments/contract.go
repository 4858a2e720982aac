package appointments

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
)

// AppointmentContract manages the appointment scheduling state machine with
// slot conflict detection and rescheduling history.
type AppointmentContract struct {
	contractapi.Contract
}

const (
	docType   = "appointment"
	keyPrefix = "appt_"

	StatusScheduled   = "scheduled"
	StatusConfirmed   = "confirmed"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusRescheduled = "rescheduled"
	StatusNoShow      = "no-show"
)

// Slot is a half-open [StartTime, EndTime) interval on a calendar date.
type Slot struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// HistoryEntry records one lifecycle action. History is append-only; a
// rescheduling entry keeps both the old and the new slot.
type HistoryEntry struct {
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"`
	PerformedBy string    `json:"performedBy,omitempty"`
	FromSlot    *Slot     `json:"fromSlot,omitempty"`
	ToSlot      *Slot     `json:"toSlot,omitempty"`
	SuccessorID string    `json:"successorId,omitempty"`
	At          time.Time `json:"at"`
	TxID        string    `json:"txId"`
}

// Reminder is one append-only reminder notification marker.
type Reminder struct {
	Type    string    `json:"type"`
	Channel string    `json:"channel"`
	SentAt  time.Time `json:"sentAt"`
}

// Appointment is one booked slot. Rescheduling never mutates the slot in
// place: the old appointment becomes a terminal "rescheduled" record and a
// successor is created under a deterministically derived ID.
type Appointment struct {
	DocType         string         `json:"docType"`
	AppointmentID   string         `json:"appointmentId"`
	PatientID       string         `json:"patientId"`
	DoctorID        string         `json:"doctorId"`
	Date            string         `json:"date"`
	StartTime       string         `json:"startTime"`
	EndTime         string         `json:"endTime"`
	Status          string         `json:"status"`
	Reason          string         `json:"reason"`
	Diagnosis       string         `json:"diagnosis,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	History         []HistoryEntry `json:"history"`
	RemindersSent   []Reminder     `json:"remindersSent"`
	PrescriptionIDs []string       `json:"prescriptionIds"`
	LabTestIDs      []string       `json:"labTestIds"`
	RescheduledFrom string         `json:"rescheduledFrom,omitempty"`
	RescheduledTo   string         `json:"rescheduledTo,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// PagedAppointments carries one page of appointments plus the next cursor.
type PagedAppointments struct {
	Records  []*Appointment `json:"records"`
	Bookmark string         `json:"bookmark"`
}

// ScheduleAppointment books a new slot after scanning the doctor's day for
// overlaps. Two concurrent bookings can both pass this scan; the loser is
// aborted at commit by the read-set version check and retried by the caller,
// so the scan is business validation, not the isolation guarantee.
func (a *AppointmentContract) ScheduleAppointment(ctx contractapi.TransactionContextInterface, appointmentID, patientID, doctorID, date, startTime, endTime, reason string) error {
	if err := base.Require("appointmentId", appointmentID); err != nil {
		return err
	}
	if err := base.Require("patientId", patientID); err != nil {
		return err
	}
	if err := base.Require("doctorId", doctorID); err != nil {
		return err
	}
	if err := validateSlot(date, startTime, endTime); err != nil {
		return err
	}

	existing, err := ctx.GetStub().GetState(keyPrefix + appointmentID)
	if err != nil {
		return fmt.Errorf("failed to read from world state: %v", err)
	}
	if existing != nil {
		return base.NewDuplicateIDError("DUPLICATE_APPOINTMENT", "appointment %s already exists", appointmentID)
	}

	if err := a.checkSlotFree(ctx, doctorID, date, startTime, endTime, ""); err != nil {
		return err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	appointment := Appointment{
		DocType:       docType,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		DoctorID:      doctorID,
		Date:          date,
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        StatusScheduled,
		Reason:        reason,
		History: []HistoryEntry{
			{Action: "scheduled", Details: reason, At: txTime, TxID: ctx.GetStub().GetTxID()},
		},
		RemindersSent:   []Reminder{},
		PrescriptionIDs: []string{},
		LabTestIDs:      []string{},
		CreatedAt:       txTime,
		UpdatedAt:       txTime,
	}

	if err := a.putAppointment(ctx, &appointment); err != nil {
		return err
	}

	return emitAppointmentEvent(ctx, "AppointmentScheduled", appointmentID, txTime)
}

// ConfirmAppointment moves scheduled to confirmed.
func (a *AppointmentContract) ConfirmAppointment(ctx contractapi.TransactionContextInterface, appointmentID string) error {
	return a.transition(ctx, appointmentID, StatusConfirmed, "confirmed", "", "", []string{StatusScheduled}, nil)
}

// CompleteAppointment closes out a confirmed visit with its clinical outcome.
func (a *AppointmentContract) CompleteAppointment(ctx contractapi.TransactionContextInterface, appointmentID, diagnosis, notes string, prescriptionIDs, labTestIDs []string) error {
	return a.transition(ctx, appointmentID, StatusCompleted, "completed", diagnosis, "", []string{StatusConfirmed}, func(appointment *Appointment) {
		appointment.Diagnosis = diagnosis
		appointment.Notes = notes
		appointment.PrescriptionIDs = append(appointment.PrescriptionIDs, prescriptionIDs...)
		appointment.LabTestIDs = append(appointment.LabTestIDs, labTestIDs...)
	})
}

// CancelAppointment cancels a scheduled or confirmed appointment.
func (a *AppointmentContract) CancelAppointment(ctx contractapi.TransactionContextInterface, appointmentID, reason, cancelledBy string) error {
	if err := base.Require("reason", reason); err != nil {
		return err
	}
	return a.transition(ctx, appointmentID, StatusCancelled, "cancelled", reason, cancelledBy, []string{StatusScheduled, StatusConfirmed}, nil)
}

// MarkNoShow marks a scheduled or confirmed appointment as missed.
func (a *AppointmentContract) MarkNoShow(ctx contractapi.TransactionContextInterface, appointmentID string) error {
	return a.transition(ctx, appointmentID, StatusNoShow, "no-show", "", "", []string{StatusScheduled, StatusConfirmed}, nil)
}

// RescheduleAppointment moves a booking to a new slot. The old record becomes
// a terminal "rescheduled" marker carrying both slots in its history; the
// successor's identity is derived from the old ID and the transaction
// timestamp so every peer creates the same record. Links held by other
// entities against the old ID are left untouched; the old record stays
// resolvable and points forward.
func (a *AppointmentContract) RescheduleAppointment(ctx contractapi.TransactionContextInterface, appointmentID, newDate, newStartTime, newEndTime, reason string) (*Appointment, error) {
	if err := validateSlot(newDate, newStartTime, newEndTime); err != nil {
		return nil, err
	}

	appointment, err := a.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.Status != StatusScheduled && appointment.Status != StatusConfirmed {
		return nil, base.NewInvalidTransitionError("INVALID_TRANSITION", "appointment %s is %s and cannot be rescheduled", appointmentID, appointment.Status)
	}

	if err := a.checkSlotFree(ctx, appointment.DoctorID, newDate, newStartTime, newEndTime, appointmentID); err != nil {
		return nil, err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return nil, err
	}
	txID := ctx.GetStub().GetTxID()

	newID := base.DeriveID("appt", appointmentID, txTime)
	successorExists, err := ctx.GetStub().GetState(keyPrefix + newID)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if successorExists != nil {
		return nil, base.NewDuplicateIDError("DUPLICATE_APPOINTMENT", "derived appointment %s already exists", newID)
	}

	oldSlot := &Slot{Date: appointment.Date, StartTime: appointment.StartTime, EndTime: appointment.EndTime}
	newSlot := &Slot{Date: newDate, StartTime: newStartTime, EndTime: newEndTime}

	appointment.Status = StatusRescheduled
	appointment.RescheduledTo = newID
	appointment.UpdatedAt = txTime
	appointment.History = append(appointment.History, HistoryEntry{
		Action:      "rescheduled",
		Details:     reason,
		FromSlot:    oldSlot,
		ToSlot:      newSlot,
		SuccessorID: newID,
		At:          txTime,
		TxID:        txID,
	})

	successor := Appointment{
		DocType:       docType,
		AppointmentID: newID,
		PatientID:     appointment.PatientID,
		DoctorID:      appointment.DoctorID,
		Date:          newDate,
		StartTime:     newStartTime,
		EndTime:       newEndTime,
		Status:        StatusScheduled,
		Reason:        appointment.Reason,
		History: []HistoryEntry{
			{Action: "scheduled", Details: reason, FromSlot: oldSlot, ToSlot: newSlot, At: txTime, TxID: txID},
		},
		RemindersSent:   []Reminder{},
		PrescriptionIDs: []string{},
		LabTestIDs:      []string{},
		RescheduledFrom: appointmentID,
		CreatedAt:       txTime,
		UpdatedAt:       txTime,
	}

	if err := a.putAppointment(ctx, appointment); err != nil {
		return nil, err
	}
	if err := a.putAppointment(ctx, &successor); err != nil {
		return nil, err
	}

	if err := emitAppointmentEvent(ctx, "AppointmentRescheduled", appointmentID, txTime); err != nil {
		return nil, err
	}

	return &successor, nil
}

// AddReminder appends a sent-reminder marker to an upcoming appointment.
func (a *AppointmentContract) AddReminder(ctx contractapi.TransactionContextInterface, appointmentID, reminderType, channel string) error {
	if err := base.Require("reminderType", reminderType); err != nil {
		return err
	}

	appointment, err := a.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if appointment.Status != StatusScheduled && appointment.Status != StatusConfirmed {
		return base.NewBusinessRuleError("APPOINTMENT_NOT_UPCOMING", "appointment %s is %s, reminders only apply to upcoming appointments", appointmentID, appointment.Status)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	appointment.RemindersSent = append(appointment.RemindersSent, Reminder{
		Type:    reminderType,
		Channel: channel,
		SentAt:  txTime,
	})
	appointment.UpdatedAt = txTime

	if err := a.putAppointment(ctx, appointment); err != nil {
		return err
	}

	return emitAppointmentEvent(ctx, "AppointmentReminderAdded", appointmentID, txTime)
}

// GetAppointment retrieves an appointment by ID.
func (a *AppointmentContract) GetAppointment(ctx contractapi.TransactionContextInterface, appointmentID string) (*Appointment, error) {
	appointmentJSON, err := ctx.GetStub().GetState(keyPrefix + appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if appointmentJSON == nil {
		return nil, base.NewNotFoundError("APPOINTMENT_NOT_FOUND", "appointment %s does not exist", appointmentID)
	}

	var appointment Appointment
	if err := json.Unmarshal(appointmentJSON, &appointment); err != nil {
		return nil, err
	}

	return &appointment, nil
}

// GetAppointmentHistory returns the append-only lifecycle history.
func (a *AppointmentContract) GetAppointmentHistory(ctx contractapi.TransactionContextInterface, appointmentID string) ([]HistoryEntry, error) {
	appointment, err := a.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	return appointment.History, nil
}

// GetAppointmentsByDoctorAndDate returns a doctor's appointments for one day
// in start-time order.
func (a *AppointmentContract) GetAppointmentsByDoctorAndDate(ctx contractapi.TransactionContextInterface, doctorID, date string) ([]*Appointment, error) {
	query := base.Selector(map[string]interface{}{
		"docType":  docType,
		"doctorId": doctorID,
		"date":     date,
	})

	values, err := base.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}

	appointments, err := unmarshalAppointments(values)
	if err != nil {
		return nil, err
	}
	sort.Slice(appointments, func(i, j int) bool {
		if appointments[i].StartTime != appointments[j].StartTime {
			return appointments[i].StartTime < appointments[j].StartTime
		}
		return appointments[i].AppointmentID < appointments[j].AppointmentID
	})

	return appointments, nil
}

// GetAppointmentsByPatient returns one page of a patient's appointments in
// chronological order.
func (a *AppointmentContract) GetAppointmentsByPatient(ctx contractapi.TransactionContextInterface, patientID string, pageSize int, bookmark string) (*PagedAppointments, error) {
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

	appointments, err := unmarshalAppointments(values)
	if err != nil {
		return nil, err
	}
	sort.Slice(appointments, func(i, j int) bool {
		if appointments[i].Date != appointments[j].Date {
			return appointments[i].Date < appointments[j].Date
		}
		if appointments[i].StartTime != appointments[j].StartTime {
			return appointments[i].StartTime < appointments[j].StartTime
		}
		return appointments[i].AppointmentID < appointments[j].AppointmentID
	})

	return &PagedAppointments{Records: appointments, Bookmark: nextBookmark}, nil
}

// transition applies a guarded status change with a history entry.
func (a *AppointmentContract) transition(ctx contractapi.TransactionContextInterface, appointmentID, toStatus, action, details, performedBy string, from []string, mutate func(*Appointment)) error {
	appointment, err := a.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !base.Contains(from, appointment.Status) {
		return base.NewInvalidTransitionError("INVALID_TRANSITION", "appointment %s is %s and cannot move to %s", appointmentID, appointment.Status, toStatus)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	appointment.Status = toStatus
	appointment.UpdatedAt = txTime
	if mutate != nil {
		mutate(appointment)
	}
	appointment.History = append(appointment.History, HistoryEntry{
		Action:      action,
		Details:     details,
		PerformedBy: performedBy,
		At:          txTime,
		TxID:        ctx.GetStub().GetTxID(),
	})

	if err := a.putAppointment(ctx, appointment); err != nil {
		return err
	}

	return emitAppointmentEvent(ctx, "Appointment"+titleCase(action), appointmentID, txTime)
}

// checkSlotFree scans the doctor's day for a blocking overlap with the given
// half-open interval, ignoring excludeID.
func (a *AppointmentContract) checkSlotFree(ctx contractapi.TransactionContextInterface, doctorID, date, startTime, endTime, excludeID string) error {
	query := base.Selector(map[string]interface{}{
		"docType":  docType,
		"doctorId": doctorID,
		"date":     date,
		"status":   map[string]interface{}{"$in": []string{StatusScheduled, StatusConfirmed}},
	})

	values, err := base.QueryAll(ctx, query)
	if err != nil {
		return err
	}

	candidates, err := unmarshalAppointments(values)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if candidate.AppointmentID == excludeID {
			continue
		}
		if overlaps(startTime, endTime, candidate.StartTime, candidate.EndTime) {
			return base.NewSchedulingConflictError("SCHEDULING_CONFLICT", "doctor %s already has appointment %s from %s to %s on %s", doctorID, candidate.AppointmentID, candidate.StartTime, candidate.EndTime, date)
		}
	}

	return nil
}

// overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. HH:MM strings compare correctly lexically.
func overlaps(s1, e1, s2, e2 string) bool {
	return s1 < e2 && s2 < e1
}

func validateSlot(date, startTime, endTime string) error {
	if _, err := base.ParseDate("date", date); err != nil {
		return err
	}
	if err := base.ParseClockTime("startTime", startTime); err != nil {
		return err
	}
	if err := base.ParseClockTime("endTime", endTime); err != nil {
		return err
	}
	if startTime >= endTime {
		return base.NewValidationError("INVALID_SLOT", "startTime %s must be before endTime %s", startTime, endTime)
	}
	return nil
}

func (a *AppointmentContract) putAppointment(ctx contractapi.TransactionContextInterface, appointment *Appointment) error {
	appointmentJSON, err := json.Marshal(appointment)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(keyPrefix+appointment.AppointmentID, appointmentJSON); err != nil {
		return fmt.Errorf("failed to put appointment to world state: %v", err)
	}
	return nil
}

func unmarshalAppointments(values [][]byte) ([]*Appointment, error) {
	var appointments []*Appointment
	for _, value := range values {
		var appointment Appointment
		if err := json.Unmarshal(value, &appointment); err != nil {
			return nil, err
		}
		appointments = append(appointments, &appointment)
	}
	return appointments, nil
}

// titleCase upcases the event fragment for a transition action, mapping
// "no-show" to "NoShow".
func titleCase(action string) string {
	switch action {
	case "confirmed":
		return "Confirmed"
	case "completed":
		return "Completed"
	case "cancelled":
		return "Cancelled"
	case "no-show":
		return "NoShow"
	default:
		return action
	}
}

func emitAppointmentEvent(ctx contractapi.TransactionContextInterface, name, appointmentID string, txTime time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"appointmentId": appointmentID,
		"timestamp":     txTime.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := ctx.GetStub().SetEvent(name, payload); err != nil {
		return fmt.Errorf("failed to emit event: %v", err)
	}
	return nil
}
