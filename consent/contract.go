package consent

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
)

// ConsentContract manages scoped data-access permissions granted by patients.
type ConsentContract struct {
	contractapi.Contract
}

const (
	docType   = "consent"
	keyPrefix = "consent_"

	StatusActive  = "active"
	StatusRevoked = "revoked"
)

// Consent represents a grant of data access from a patient to a grantee.
// Consents are never physically deleted; revocation is a terminal status
// change so the full grant history stays auditable.
type Consent struct {
	DocType    string     `json:"docType"`
	ConsentID  string     `json:"consentId"`
	PatientID  string     `json:"patientId"`
	GranteeID  string     `json:"granteeId"`
	Scope      string     `json:"scope"`
	Purpose    string     `json:"purpose"`
	Status     string     `json:"status"`
	ValidUntil time.Time  `json:"validUntil"`
	CreatedAt  time.Time  `json:"createdAt"`
	CreatedBy  string     `json:"createdBy"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	RevokedBy  string     `json:"revokedBy,omitempty"`
}

// ConsentValidity is the read-only report returned by ValidateConsent.
type ConsentValidity struct {
	ConsentID string    `json:"consentId"`
	Valid     bool      `json:"valid"`
	Status    string    `json:"status"`
	Expired   bool      `json:"expired"`
	CheckedAt time.Time `json:"checkedAt"`
}

// PagedConsents carries one page of consents plus the cursor for the next.
type PagedConsents struct {
	Records  []*Consent `json:"records"`
	Bookmark string     `json:"bookmark"`
}

// CreateConsent records a new active consent grant.
func (c *ConsentContract) CreateConsent(ctx contractapi.TransactionContextInterface, consentID, patientID, granteeID, scope, purpose, validUntil string) error {
	if err := base.Require("consentId", consentID); err != nil {
		return err
	}
	if err := base.Require("patientId", patientID); err != nil {
		return err
	}
	if err := base.Require("granteeId", granteeID); err != nil {
		return err
	}
	if err := base.Require("scope", scope); err != nil {
		return err
	}
	if err := base.Require("purpose", purpose); err != nil {
		return err
	}
	validUntilTime, err := base.ParseTimestamp("validUntil", validUntil)
	if err != nil {
		return err
	}

	existing, err := ctx.GetStub().GetState(keyPrefix + consentID)
	if err != nil {
		return fmt.Errorf("failed to read from world state: %v", err)
	}
	if existing != nil {
		return base.NewDuplicateIDError("DUPLICATE_CONSENT", "consent %s already exists", consentID)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}
	callerID, err := base.CallerID(ctx)
	if err != nil {
		return err
	}

	grant := Consent{
		DocType:    docType,
		ConsentID:  consentID,
		PatientID:  patientID,
		GranteeID:  granteeID,
		Scope:      scope,
		Purpose:    purpose,
		Status:     StatusActive,
		ValidUntil: validUntilTime,
		CreatedAt:  txTime,
		CreatedBy:  callerID,
	}

	grantJSON, err := json.Marshal(grant)
	if err != nil {
		return err
	}

	if err := ctx.GetStub().PutState(keyPrefix+consentID, grantJSON); err != nil {
		return fmt.Errorf("failed to put consent to world state: %v", err)
	}

	return emitEvent(ctx, "ConsentCreated", consentID, txTime)
}

// GetConsent retrieves a consent by ID.
func (c *ConsentContract) GetConsent(ctx contractapi.TransactionContextInterface, consentID string) (*Consent, error) {
	grantJSON, err := ctx.GetStub().GetState(keyPrefix + consentID)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if grantJSON == nil {
		return nil, base.NewNotFoundError("CONSENT_NOT_FOUND", "consent %s does not exist", consentID)
	}

	var grant Consent
	if err := json.Unmarshal(grantJSON, &grant); err != nil {
		return nil, err
	}

	return &grant, nil
}

// GetConsentsByPatient returns every consent for a patient, active and
// revoked, ordered by creation time. The store returns candidates unordered;
// sorting happens here.
func (c *ConsentContract) GetConsentsByPatient(ctx contractapi.TransactionContextInterface, patientID string) ([]*Consent, error) {
	query := base.Selector(map[string]interface{}{
		"docType":   docType,
		"patientId": patientID,
	})

	values, err := base.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}

	grants, err := unmarshalConsents(values)
	if err != nil {
		return nil, err
	}
	sortConsents(grants)

	return grants, nil
}

// GetConsentsByPatientPaginated returns one page of a patient's consents and
// the bookmark for the next page.
func (c *ConsentContract) GetConsentsByPatientPaginated(ctx contractapi.TransactionContextInterface, patientID string, pageSize int, bookmark string) (*PagedConsents, error) {
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

	grants, err := unmarshalConsents(values)
	if err != nil {
		return nil, err
	}
	sortConsents(grants)

	return &PagedConsents{Records: grants, Bookmark: nextBookmark}, nil
}

// RevokeConsent terminally revokes an active consent. A revoked consent can
// never return to active.
func (c *ConsentContract) RevokeConsent(ctx contractapi.TransactionContextInterface, consentID string) error {
	grant, err := c.GetConsent(ctx, consentID)
	if err != nil {
		return err
	}

	if grant.Status != StatusActive {
		return base.NewInvalidTransitionError("CONSENT_ALREADY_REVOKED", "consent %s is %s, only active consents can be revoked", consentID, grant.Status)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}
	callerID, err := base.CallerID(ctx)
	if err != nil {
		return err
	}

	grant.Status = StatusRevoked
	grant.RevokedAt = &txTime
	grant.RevokedBy = callerID

	grantJSON, err := json.Marshal(grant)
	if err != nil {
		return err
	}

	if err := ctx.GetStub().PutState(keyPrefix+consentID, grantJSON); err != nil {
		return fmt.Errorf("failed to update consent: %v", err)
	}

	return emitEvent(ctx, "ConsentRevoked", consentID, txTime)
}

// ValidateConsent reports whether a consent currently authorizes access,
// judged against the transaction timestamp. Read-only.
func (c *ConsentContract) ValidateConsent(ctx contractapi.TransactionContextInterface, consentID string) (*ConsentValidity, error) {
	grant, err := c.GetConsent(ctx, consentID)
	if err != nil {
		return nil, err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return nil, err
	}

	expired := txTime.After(grant.ValidUntil)
	return &ConsentValidity{
		ConsentID: consentID,
		Valid:     grant.Status == StatusActive && !expired,
		Status:    grant.Status,
		Expired:   expired,
		CheckedAt: txTime,
	}, nil
}

func unmarshalConsents(values [][]byte) ([]*Consent, error) {
	var grants []*Consent
	for _, value := range values {
		var grant Consent
		if err := json.Unmarshal(value, &grant); err != nil {
			return nil, err
		}
		grants = append(grants, &grant)
	}
	return grants, nil
}

// sortConsents orders by creation time, consent ID as tie-break so the result
// is identical on every peer.
func sortConsents(grants []*Consent) {
	sort.Slice(grants, func(i, j int) bool {
		if !grants[i].CreatedAt.Equal(grants[j].CreatedAt) {
			return grants[i].CreatedAt.Before(grants[j].CreatedAt)
		}
		return grants[i].ConsentID < grants[j].ConsentID
	})
}

func emitEvent(ctx contractapi.TransactionContextInterface, name, consentID string, txTime time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"consentId": consentID,
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
