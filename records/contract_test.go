package records

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
	"github.com/deveshyaara/Healthlink-RPC-sub000/mocks"
)

var txTime = time.Date(2025, 11, 3, 14, 0, 0, 0, time.UTC)

var (
	hashV1 = strings.Repeat("a1", 32)
	hashV2 = strings.Repeat("b2", 32)
	hashV3 = strings.Repeat("c3", 32)
)

func testContext(t time.Time) (*mocks.TransactionContext, *mocks.ChaincodeStub) {
	stub := mocks.NewStub("tx1", t)
	ctx := new(mocks.TransactionContext)
	ctx.On("GetStub").Return(stub)
	return ctx, stub
}

func createTestRecord(t *testing.T, contract *MedicalRecordContract, ctx *mocks.TransactionContext) {
	t.Helper()
	err := contract.CreateRecord(ctx, "record1", "patient1", "doctor1", "diagnosis", hashV1, "initial diagnosis", false, []string{"cardiology"})
	require.NoError(t, err)
}

func TestCreateRecord(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, stub := testContext(txTime)

	createTestRecord(t, contract, ctx)

	var stored MedicalRecord
	require.NoError(t, json.Unmarshal(stub.State["record_record1"], &stored))
	assert.Equal(t, "medical_record", stored.DocType)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, 1, stored.Version)
	assert.Equal(t, hashV1, stored.ContentHash)
	require.Len(t, stored.VersionHistory, 1)
	assert.Equal(t, hashV1, stored.VersionHistory[0].ContentHash)
	assert.Equal(t, []string{"cardiology"}, stored.Metadata.Tags)

	require.Len(t, stub.Events, 1)
	assert.Equal(t, "RecordCreated", stub.Events[0].Name)
}

func TestCreateRecord_Duplicate(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, _ := testContext(txTime)

	createTestRecord(t, contract, ctx)
	err := contract.CreateRecord(ctx, "record1", "patient2", "doctor2", "imaging", hashV2, "x-ray", false, nil)
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrDuplicateID))
}

func TestCreateRecord_Invalid(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, _ := testContext(txTime)

	err := contract.CreateRecord(ctx, "record1", "patient1", "doctor1", "horoscope", hashV1, "", false, nil)
	require.Error(t, err)
	assert.Equal(t, "INVALID_RECORD_TYPE", base.CodeOf(err))

	err = contract.CreateRecord(ctx, "record1", "patient1", "doctor1", "diagnosis", "not-a-hash", "", false, nil)
	require.Error(t, err)
	assert.Equal(t, "INVALID_CONTENT_HASH", base.CodeOf(err))
}

func TestUpdateRecord_VersionsAndHistory(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, _ := testContext(txTime)

	createTestRecord(t, contract, ctx)
	require.NoError(t, contract.UpdateRecord(ctx, "record1", hashV2, "updated after follow-up", "doctor1"))
	require.NoError(t, contract.UpdateRecord(ctx, "record1", hashV3, "", "doctor2"))

	record, err := contract.GetRecord(ctx, "record1")
	require.NoError(t, err)
	assert.Equal(t, 3, record.Version)
	assert.Equal(t, hashV3, record.ContentHash)

	// Every prior content hash must be reconstructable.
	history, err := contract.GetRecordVersionHistory(ctx, "record1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{hashV1, hashV2, hashV3}, []string{history[0].ContentHash, history[1].ContentHash, history[2].ContentHash})
	assert.Equal(t, []int{1, 2, 3}, []int{history[0].Version, history[1].Version, history[2].Version})
	assert.Equal(t, "doctor2", history[2].ChangedBy)
}

func TestUpdateRecord_NotFoundAndArchived(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, _ := testContext(txTime)

	err := contract.UpdateRecord(ctx, "missing", hashV2, "", "doctor1")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrNotFound))

	createTestRecord(t, contract, ctx)
	require.NoError(t, contract.ArchiveRecord(ctx, "record1", "admin1"))

	err = contract.UpdateRecord(ctx, "record1", hashV2, "", "doctor1")
	require.Error(t, err)
	assert.Equal(t, "RECORD_ARCHIVED", base.CodeOf(err))
}

func TestLogAccess_AppendOnly(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, _ := testContext(txTime)

	createTestRecord(t, contract, ctx)
	require.NoError(t, contract.LogAccess(ctx, "record1", "nurse1", "pre-op review"))
	require.NoError(t, contract.LogAccess(ctx, "record1", "doctor2", "second opinion"))

	record, err := contract.GetRecord(ctx, "record1")
	require.NoError(t, err)
	require.Len(t, record.AccessLog, 2)
	assert.Equal(t, "nurse1", record.AccessLog[0].AccessorID)
	assert.Equal(t, "doctor2", record.AccessLog[1].AccessorID)
	assert.Equal(t, txTime, record.AccessLog[0].AccessedAt)

	// Logging access never bumps the content version.
	assert.Equal(t, 1, record.Version)
}

func TestArchiveRecord(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, _ := testContext(txTime)

	createTestRecord(t, contract, ctx)
	require.NoError(t, contract.ArchiveRecord(ctx, "record1", "admin1"))

	record, err := contract.GetRecord(ctx, "record1")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, record.Status)

	err = contract.ArchiveRecord(ctx, "record1", "admin1")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrInvalidTransition))
}

func TestGetRecordsByPatient_SortedNewestFirst(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, stub := testContext(txTime)

	older := MedicalRecord{DocType: docType, RecordID: "record2", PatientID: "patient1", Status: StatusActive, CreatedAt: txTime.Add(-48 * time.Hour)}
	newer := MedicalRecord{DocType: docType, RecordID: "record1", PatientID: "patient1", Status: StatusActive, CreatedAt: txTime}
	olderJSON, _ := json.Marshal(older)
	newerJSON, _ := json.Marshal(newer)
	stub.QueryResults = []*queryresult.KV{
		{Key: "record_record2", Value: olderJSON},
		{Key: "record_record1", Value: newerJSON},
	}

	results, err := contract.GetRecordsByPatient(ctx, "patient1", false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "record1", results[0].RecordID)
	assert.Equal(t, "record2", results[1].RecordID)

	// Active-only listing filters at the selector.
	require.Len(t, stub.Queries, 1)
	assert.Contains(t, stub.Queries[0], `"status":"active"`)
	assert.NotContains(t, stub.Queries[0], "sort")

	// includeArchived drops the status filter.
	_, err = contract.GetRecordsByPatient(ctx, "patient1", true)
	require.NoError(t, err)
	assert.NotContains(t, stub.Queries[1], `"status"`)
}

func TestGetRecordsByPatientPaginated(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, stub := testContext(txTime)

	record := MedicalRecord{DocType: docType, RecordID: "record1", PatientID: "patient1", Status: StatusActive, CreatedAt: txTime}
	recordJSON, _ := json.Marshal(record)
	stub.QueryResults = []*queryresult.KV{{Key: "record_record1", Value: recordJSON}}
	stub.NextBookmark = "bm1"

	page, err := contract.GetRecordsByPatientPaginated(ctx, "patient1", false, 25, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "bm1", page.Bookmark)
}

func TestGetRecordLedgerHistory(t *testing.T) {
	contract := new(MedicalRecordContract)
	ctx, stub := testContext(txTime)

	v1 := MedicalRecord{DocType: docType, RecordID: "record1", Version: 1, ContentHash: hashV1}
	v2 := MedicalRecord{DocType: docType, RecordID: "record1", Version: 2, ContentHash: hashV2}
	v1JSON, _ := json.Marshal(v1)
	v2JSON, _ := json.Marshal(v2)

	stub.HistoryResults = []*queryresult.KeyModification{
		{TxId: "tx_a", Value: v1JSON, Timestamp: &timestamp.Timestamp{Seconds: txTime.Unix()}},
		{TxId: "tx_b", Value: v2JSON, Timestamp: &timestamp.Timestamp{Seconds: txTime.Add(time.Hour).Unix()}},
	}

	history, err := contract.GetRecordLedgerHistory(ctx, "record1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "tx_a", history[0].TxID)
	assert.Equal(t, 1, history[0].Record.Version)
	assert.Equal(t, 2, history[1].Record.Version)
	assert.False(t, history[0].IsDelete)
}

func TestCreateRecord_Deterministic(t *testing.T) {
	contract := new(MedicalRecordContract)

	ctxA, stubA := testContext(txTime)
	ctxB, stubB := testContext(txTime)

	createTestRecord(t, contract, ctxA)
	createTestRecord(t, contract, ctxB)

	assert.Equal(t, stubA.State["record_record1"], stubB.State["record_record1"])
}
