package consent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
	"github.com/deveshyaara/Healthlink-RPC-sub000/mocks"
)

var txTime = time.Date(2025, 11, 1, 9, 30, 0, 0, time.UTC)

func testContext(t time.Time) (*mocks.TransactionContext, *mocks.ChaincodeStub) {
	stub := mocks.NewStub("tx1", t)
	identity := new(mocks.ClientIdentity)
	identity.On("GetID").Return("x509::patient1", nil)
	ctx := new(mocks.TransactionContext)
	ctx.On("GetStub").Return(stub)
	ctx.On("GetClientIdentity").Return(identity)
	return ctx, stub
}

func TestCreateConsent(t *testing.T) {
	contract := new(ConsentContract)
	ctx, stub := testContext(txTime)

	err := contract.CreateConsent(ctx, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z")
	require.NoError(t, err)

	var stored Consent
	require.NoError(t, json.Unmarshal(stub.State["consent_consent1"], &stored))
	assert.Equal(t, "consent", stored.DocType)
	assert.Equal(t, "consent1", stored.ConsentID)
	assert.Equal(t, StatusActive, stored.Status)
	assert.Equal(t, txTime, stored.CreatedAt)
	assert.Equal(t, "x509::patient1", stored.CreatedBy)
	assert.Nil(t, stored.RevokedAt)

	require.Len(t, stub.Events, 1)
	assert.Equal(t, "ConsentCreated", stub.Events[0].Name)
}

func TestCreateConsent_Duplicate(t *testing.T) {
	contract := new(ConsentContract)
	ctx, _ := testContext(txTime)

	require.NoError(t, contract.CreateConsent(ctx, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z"))

	err := contract.CreateConsent(ctx, "consent1", "patient2", "doctor2", "lab_results", "research", "2026-06-01T00:00:00Z")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrDuplicateID))
	assert.Equal(t, "DUPLICATE_CONSENT", base.CodeOf(err))
}

func TestCreateConsent_MissingField(t *testing.T) {
	contract := new(ConsentContract)
	ctx, _ := testContext(txTime)

	err := contract.CreateConsent(ctx, "consent1", "", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrValidation))
}

func TestCreateConsent_BadValidUntil(t *testing.T) {
	contract := new(ConsentContract)
	ctx, _ := testContext(txTime)

	err := contract.CreateConsent(ctx, "consent1", "patient1", "doctor1", "medical_records", "treatment", "tomorrow")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrValidation))
}

func TestGetConsent_NotFound(t *testing.T) {
	contract := new(ConsentContract)
	ctx, _ := testContext(txTime)

	_, err := contract.GetConsent(ctx, "nope")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrNotFound))
}

func TestRevokeConsent(t *testing.T) {
	contract := new(ConsentContract)
	ctx, stub := testContext(txTime)

	require.NoError(t, contract.CreateConsent(ctx, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z"))
	require.NoError(t, contract.RevokeConsent(ctx, "consent1"))

	grant, err := contract.GetConsent(ctx, "consent1")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, grant.Status)
	require.NotNil(t, grant.RevokedAt)
	assert.Equal(t, txTime, *grant.RevokedAt)
	assert.Equal(t, "ConsentRevoked", stub.Events[len(stub.Events)-1].Name)
}

func TestRevokeConsent_IsTerminal(t *testing.T) {
	contract := new(ConsentContract)
	ctx, _ := testContext(txTime)

	require.NoError(t, contract.CreateConsent(ctx, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z"))
	require.NoError(t, contract.RevokeConsent(ctx, "consent1"))

	err := contract.RevokeConsent(ctx, "consent1")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrInvalidTransition))
	assert.Equal(t, "CONSENT_ALREADY_REVOKED", base.CodeOf(err))

	// Still revoked afterwards.
	grant, err := contract.GetConsent(ctx, "consent1")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, grant.Status)
}

func TestGetConsentsByPatient_SortedByCreatedAt(t *testing.T) {
	contract := new(ConsentContract)
	ctx, stub := testContext(txTime)

	older := Consent{DocType: "consent", ConsentID: "consent2", PatientID: "patient1", Status: StatusActive, CreatedAt: txTime.Add(-time.Hour)}
	newer := Consent{DocType: "consent", ConsentID: "consent1", PatientID: "patient1", Status: StatusRevoked, CreatedAt: txTime}
	olderJSON, _ := json.Marshal(older)
	newerJSON, _ := json.Marshal(newer)

	// Store order is not guaranteed; newest first here.
	stub.QueryResults = []*queryresult.KV{
		{Key: "consent_consent1", Value: newerJSON},
		{Key: "consent_consent2", Value: olderJSON},
	}

	grants, err := contract.GetConsentsByPatient(ctx, "patient1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "consent2", grants[0].ConsentID)
	assert.Equal(t, "consent1", grants[1].ConsentID)

	// The selector must not request a store-level sort.
	require.Len(t, stub.Queries, 1)
	assert.NotContains(t, stub.Queries[0], "sort")
}

func TestGetConsentsByPatientPaginated(t *testing.T) {
	contract := new(ConsentContract)
	ctx, stub := testContext(txTime)

	grant := Consent{DocType: "consent", ConsentID: "consent1", PatientID: "patient1", Status: StatusActive, CreatedAt: txTime}
	grantJSON, _ := json.Marshal(grant)
	stub.QueryResults = []*queryresult.KV{{Key: "consent_consent1", Value: grantJSON}}
	stub.NextBookmark = "bookmark-abc"

	page, err := contract.GetConsentsByPatientPaginated(ctx, "patient1", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "bookmark-abc", page.Bookmark)

	_, err = contract.GetConsentsByPatientPaginated(ctx, "patient1", 0, "")
	require.Error(t, err)
	assert.True(t, base.IsKind(err, base.ErrValidation))
}

func TestValidateConsent(t *testing.T) {
	contract := new(ConsentContract)
	ctx, _ := testContext(txTime)

	require.NoError(t, contract.CreateConsent(ctx, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z"))

	validity, err := contract.ValidateConsent(ctx, "consent1")
	require.NoError(t, err)
	assert.True(t, validity.Valid)
	assert.False(t, validity.Expired)

	// Expired grant: validUntil before the transaction timestamp.
	require.NoError(t, contract.CreateConsent(ctx, "consent2", "patient1", "doctor1", "medical_records", "treatment", "2020-01-01T00:00:00Z"))
	validity, err = contract.ValidateConsent(ctx, "consent2")
	require.NoError(t, err)
	assert.False(t, validity.Valid)
	assert.True(t, validity.Expired)

	// Revoked grant is never valid.
	require.NoError(t, contract.RevokeConsent(ctx, "consent1"))
	validity, err = contract.ValidateConsent(ctx, "consent1")
	require.NoError(t, err)
	assert.False(t, validity.Valid)
	assert.Equal(t, StatusRevoked, validity.Status)
}

func TestCreateConsent_Deterministic(t *testing.T) {
	contract := new(ConsentContract)

	ctxA, stubA := testContext(txTime)
	ctxB, stubB := testContext(txTime)

	require.NoError(t, contract.CreateConsent(ctxA, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z"))
	require.NoError(t, contract.CreateConsent(ctxB, "consent1", "patient1", "doctor1", "medical_records", "treatment", "2026-01-01T00:00:00Z"))

	// Independent executions with the same logical clock produce byte-identical writes.
	assert.Equal(t, stubA.State["consent_consent1"], stubB.State["consent_consent1"])
}
