package records

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
)

// MedicalRecordContract manages versioned clinical records with built-in
// access logging. Record content lives in off-ledger blob storage; the ledger
// holds only content hashes and metadata.
type MedicalRecordContract struct {
	contractapi.Contract
}

const (
	docType   = "medical_record"
	keyPrefix = "record_"

	StatusActive   = "active"
	StatusArchived = "archived"
)

// validRecordTypes is the enumerated set accepted by CreateRecord.
var validRecordTypes = []string{
	"diagnosis",
	"lab_report",
	"imaging",
	"prescription",
	"vaccination",
	"consultation",
	"surgery",
	"discharge_summary",
}

// RecordMetadata carries descriptive fields that do not affect versioning.
type RecordMetadata struct {
	Description    string   `json:"description"`
	IsConfidential bool     `json:"isConfidential"`
	Tags           []string `json:"tags"`
}

// VersionEntry is one immutable line of a record's version history. Entries
// are only appended, never rewritten, so every prior content hash stays
// reconstructable for legal replay.
type VersionEntry struct {
	Version     int       `json:"version"`
	ContentHash string    `json:"contentHash"`
	Description string    `json:"description"`
	ChangedBy   string    `json:"changedBy"`
	ChangedAt   time.Time `json:"changedAt"`
}

// AccessEntry is one append-only access-log line.
type AccessEntry struct {
	AccessorID string    `json:"accessorId"`
	Reason     string    `json:"reason"`
	AccessedAt time.Time `json:"accessedAt"`
	TxID       string    `json:"txId"`
}

// MedicalRecord is a versioned clinical record. Archival is a status flag;
// records are never physically deleted.
type MedicalRecord struct {
	DocType        string         `json:"docType"`
	RecordID       string         `json:"recordId"`
	PatientID      string         `json:"patientId"`
	DoctorID       string         `json:"doctorId"`
	RecordType     string         `json:"recordType"`
	ContentHash    string         `json:"contentHash"`
	Metadata       RecordMetadata `json:"metadata"`
	Status         string         `json:"status"`
	Version        int            `json:"version"`
	VersionHistory []VersionEntry `json:"versionHistory"`
	AccessLog      []AccessEntry  `json:"accessLog"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// LedgerHistoryEntry is one committed mutation of a record key, taken from
// the peer's per-key transaction history.
type LedgerHistoryEntry struct {
	TxID      string        `json:"txId"`
	Record    MedicalRecord `json:"record"`
	Timestamp time.Time     `json:"timestamp"`
	IsDelete  bool          `json:"isDelete"`
}

// PagedRecords carries one page of records plus the cursor for the next.
type PagedRecords struct {
	Records  []*MedicalRecord `json:"records"`
	Bookmark string           `json:"bookmark"`
}

// CreateRecord stores a new clinical record at version 1.
func (m *MedicalRecordContract) CreateRecord(ctx contractapi.TransactionContextInterface, recordID, patientID, doctorID, recordType, contentHash, description string, isConfidential bool, tags []string) error {
	if err := base.Require("recordId", recordID); err != nil {
		return err
	}
	if err := base.Require("patientId", patientID); err != nil {
		return err
	}
	if err := base.Require("doctorId", doctorID); err != nil {
		return err
	}
	if !base.Contains(validRecordTypes, recordType) {
		return base.NewValidationError("INVALID_RECORD_TYPE", "invalid record type: %s", recordType)
	}
	if !base.ValidContentHash(contentHash) {
		return base.NewValidationError("INVALID_CONTENT_HASH", "contentHash must be a hex SHA-256 digest")
	}

	existing, err := ctx.GetStub().GetState(keyPrefix + recordID)
	if err != nil {
		return fmt.Errorf("failed to read from world state: %v", err)
	}
	if existing != nil {
		return base.NewDuplicateIDError("DUPLICATE_RECORD", "record %s already exists", recordID)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	record := MedicalRecord{
		DocType:     docType,
		RecordID:    recordID,
		PatientID:   patientID,
		DoctorID:    doctorID,
		RecordType:  recordType,
		ContentHash: contentHash,
		Metadata: RecordMetadata{
			Description:    description,
			IsConfidential: isConfidential,
			Tags:           tags,
		},
		Status:  StatusActive,
		Version: 1,
		VersionHistory: []VersionEntry{
			{
				Version:     1,
				ContentHash: contentHash,
				Description: description,
				ChangedBy:   doctorID,
				ChangedAt:   txTime,
			},
		},
		CreatedAt: txTime,
		UpdatedAt: txTime,
	}

	if err := m.putRecord(ctx, &record); err != nil {
		return err
	}

	return emitRecordEvent(ctx, "RecordCreated", recordID, record.Version, txTime)
}

// UpdateRecord produces a new version of an active record. The previous
// content hash is preserved in the version history, never overwritten.
func (m *MedicalRecordContract) UpdateRecord(ctx contractapi.TransactionContextInterface, recordID, newContentHash, description, updatedBy string) error {
	if !base.ValidContentHash(newContentHash) {
		return base.NewValidationError("INVALID_CONTENT_HASH", "newContentHash must be a hex SHA-256 digest")
	}
	if err := base.Require("updatedBy", updatedBy); err != nil {
		return err
	}

	record, err := m.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Status == StatusArchived {
		return base.NewInvalidTransitionError("RECORD_ARCHIVED", "record %s is archived and cannot be updated", recordID)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	record.Version++
	record.ContentHash = newContentHash
	if description != "" {
		record.Metadata.Description = description
	}
	record.UpdatedAt = txTime
	record.VersionHistory = append(record.VersionHistory, VersionEntry{
		Version:     record.Version,
		ContentHash: newContentHash,
		Description: record.Metadata.Description,
		ChangedBy:   updatedBy,
		ChangedAt:   txTime,
	})

	if err := m.putRecord(ctx, record); err != nil {
		return err
	}

	return emitRecordEvent(ctx, "RecordUpdated", recordID, record.Version, txTime)
}

// LogAccess appends to a record's access log. This is a state-changing write
// even though the caller's intent is a read, so it goes through ordering like
// any other transaction.
func (m *MedicalRecordContract) LogAccess(ctx contractapi.TransactionContextInterface, recordID, accessorID, reason string) error {
	if err := base.Require("accessorId", accessorID); err != nil {
		return err
	}

	record, err := m.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	record.AccessLog = append(record.AccessLog, AccessEntry{
		AccessorID: accessorID,
		Reason:     reason,
		AccessedAt: txTime,
		TxID:       ctx.GetStub().GetTxID(),
	})

	if err := m.putRecord(ctx, record); err != nil {
		return err
	}

	return emitRecordEvent(ctx, "RecordAccessLogged", recordID, record.Version, txTime)
}

// ArchiveRecord soft-deletes a record. Archived records remain queryable for
// patient and doctor history but drop out of active listings.
func (m *MedicalRecordContract) ArchiveRecord(ctx contractapi.TransactionContextInterface, recordID, archivedBy string) error {
	record, err := m.GetRecord(ctx, recordID)
	if err != nil {
		return err
	}
	if record.Status == StatusArchived {
		return base.NewInvalidTransitionError("RECORD_ALREADY_ARCHIVED", "record %s is already archived", recordID)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	record.Status = StatusArchived
	record.UpdatedAt = txTime
	record.AccessLog = append(record.AccessLog, AccessEntry{
		AccessorID: archivedBy,
		Reason:     "archive",
		AccessedAt: txTime,
		TxID:       ctx.GetStub().GetTxID(),
	})

	if err := m.putRecord(ctx, record); err != nil {
		return err
	}

	return emitRecordEvent(ctx, "RecordArchived", recordID, record.Version, txTime)
}

// GetRecord retrieves a record by ID without touching the access log. Callers
// whose read must be audited invoke LogAccess as a separate submit.
func (m *MedicalRecordContract) GetRecord(ctx contractapi.TransactionContextInterface, recordID string) (*MedicalRecord, error) {
	recordJSON, err := ctx.GetStub().GetState(keyPrefix + recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if recordJSON == nil {
		return nil, base.NewNotFoundError("RECORD_NOT_FOUND", "record %s does not exist", recordID)
	}

	var record MedicalRecord
	if err := json.Unmarshal(recordJSON, &record); err != nil {
		return nil, err
	}

	return &record, nil
}

// GetRecordVersionHistory returns the immutable version history of a record.
func (m *MedicalRecordContract) GetRecordVersionHistory(ctx contractapi.TransactionContextInterface, recordID string) ([]VersionEntry, error) {
	record, err := m.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return record.VersionHistory, nil
}

// GetRecordsByPatient returns a patient's records, newest first. Archived
// records are included only on request.
func (m *MedicalRecordContract) GetRecordsByPatient(ctx contractapi.TransactionContextInterface, patientID string, includeArchived bool) ([]*MedicalRecord, error) {
	values, err := base.QueryAll(ctx, recordSelector(patientID, "", includeArchived))
	if err != nil {
		return nil, err
	}

	results, err := unmarshalRecords(values)
	if err != nil {
		return nil, err
	}
	sortRecords(results)

	return results, nil
}

// GetRecordsByPatientPaginated returns one page of a patient's records.
func (m *MedicalRecordContract) GetRecordsByPatientPaginated(ctx contractapi.TransactionContextInterface, patientID string, includeArchived bool, pageSize int, bookmark string) (*PagedRecords, error) {
	if pageSize <= 0 {
		return nil, base.NewValidationError("INVALID_PAGE_SIZE", "pageSize must be positive, got %d", pageSize)
	}

	values, nextBookmark, err := base.QueryPage(ctx, recordSelector(patientID, "", includeArchived), int32(pageSize), bookmark)
	if err != nil {
		return nil, err
	}

	results, err := unmarshalRecords(values)
	if err != nil {
		return nil, err
	}
	sortRecords(results)

	return &PagedRecords{Records: results, Bookmark: nextBookmark}, nil
}

// GetRecordsByDoctor returns records authored by a doctor, newest first.
func (m *MedicalRecordContract) GetRecordsByDoctor(ctx contractapi.TransactionContextInterface, doctorID string, includeArchived bool) ([]*MedicalRecord, error) {
	values, err := base.QueryAll(ctx, recordSelector("", doctorID, includeArchived))
	if err != nil {
		return nil, err
	}

	results, err := unmarshalRecords(values)
	if err != nil {
		return nil, err
	}
	sortRecords(results)

	return results, nil
}

// GetRecordLedgerHistory returns every committed mutation of a record from
// the peer's transaction history. Together with the in-document version
// history this forms the audit trail; no separate audit log is kept.
func (m *MedicalRecordContract) GetRecordLedgerHistory(ctx contractapi.TransactionContextInterface, recordID string) ([]*LedgerHistoryEntry, error) {
	resultsIterator, err := ctx.GetStub().GetHistoryForKey(keyPrefix + recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record history: %v", err)
	}
	defer resultsIterator.Close()

	var history []*LedgerHistoryEntry
	for resultsIterator.HasNext() {
		modification, err := resultsIterator.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to iterate history: %v", err)
		}

		entry := &LedgerHistoryEntry{
			TxID:     modification.TxId,
			IsDelete: modification.IsDelete,
		}
		if modification.Timestamp != nil {
			entry.Timestamp = time.Unix(modification.Timestamp.Seconds, int64(modification.Timestamp.Nanos)).UTC()
		}
		if modification.Value != nil {
			if err := json.Unmarshal(modification.Value, &entry.Record); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record history value: %v", err)
			}
		}

		history = append(history, entry)
	}

	return history, nil
}

func (m *MedicalRecordContract) putRecord(ctx contractapi.TransactionContextInterface, record *MedicalRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(keyPrefix+record.RecordID, recordJSON); err != nil {
		return fmt.Errorf("failed to put record to world state: %v", err)
	}
	return nil
}

func recordSelector(patientID, doctorID string, includeArchived bool) string {
	fields := map[string]interface{}{
		"docType": docType,
	}
	if patientID != "" {
		fields["patientId"] = patientID
	}
	if doctorID != "" {
		fields["doctorId"] = doctorID
	}
	if !includeArchived {
		fields["status"] = StatusActive
	}
	return base.Selector(fields)
}

func unmarshalRecords(values [][]byte) ([]*MedicalRecord, error) {
	var results []*MedicalRecord
	for _, value := range values {
		var record MedicalRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return nil, err
		}
		results = append(results, &record)
	}
	return results, nil
}

// sortRecords orders newest first, record ID as tie-break.
func sortRecords(results []*MedicalRecord) {
	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].RecordID < results[j].RecordID
	})
}

func emitRecordEvent(ctx contractapi.TransactionContextInterface, name, recordID string, version int, txTime time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"recordId":  recordID,
		"version":   version,
		"timestamp": txTime.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := ctx.GetStub().SetEvent(name, payload); err != nil {
		return fmt.Errorf("failed to emit event: %v", err)
	}
	return nil
}
