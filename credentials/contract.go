package credentials

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/deveshyaara/Healthlink-RPC-sub000/base"
)

// DoctorCredentialContract manages doctor registration, the verification
// workflow, rating aggregation, and suspension.
type DoctorCredentialContract struct {
	contractapi.Contract
}

const (
	docType   = "doctor_credential"
	keyPrefix = "doctor_"

	// licenseIndex maps a license number to the doctor holding it; the index
	// row is what enforces license uniqueness.
	licenseIndex = "license~doctor"

	StatusPending   = "pending"
	StatusVerified  = "verified"
	StatusRejected  = "rejected"
	StatusSuspended = "suspended"

	minRating = 1
	maxRating = 5
)

// Review is one append-only patient review.
type Review struct {
	ReviewerID string    `json:"reviewerId"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	ReviewedAt time.Time `json:"reviewedAt"`
}

// DoctorCredential holds a doctor's registration and verification state.
// RatingCount only ever grows; the average rating is RatingSum/RatingCount.
type DoctorCredential struct {
	DocType            string     `json:"docType"`
	DoctorID           string     `json:"doctorId"`
	Name               string     `json:"name"`
	Specialization     string     `json:"specialization"`
	LicenseNumber      string     `json:"licenseNumber"`
	Hospital           string     `json:"hospital"`
	Contact            string     `json:"contact"`
	VerificationStatus string     `json:"verificationStatus"`
	VerifiedBy         string     `json:"verifiedBy,omitempty"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	SuspensionReason   string     `json:"suspensionReason,omitempty"`
	SuspendedAt        *time.Time `json:"suspendedAt,omitempty"`
	RatingSum          int        `json:"ratingSum"`
	RatingCount        int        `json:"ratingCount"`
	Reviews            []Review   `json:"reviews"`
	RegisteredAt       time.Time  `json:"registeredAt"`
}

// AverageRating returns the doctor's mean review rating, 0 when unreviewed.
func (d *DoctorCredential) AverageRating() float64 {
	if d.RatingCount == 0 {
		return 0
	}
	return float64(d.RatingSum) / float64(d.RatingCount)
}

// PagedDoctors carries one page of doctors plus the cursor for the next.
type PagedDoctors struct {
	Records  []*DoctorCredential `json:"records"`
	Bookmark string              `json:"bookmark"`
}

// RegisterDoctor registers a new doctor in pending verification state.
func (d *DoctorCredentialContract) RegisterDoctor(ctx contractapi.TransactionContextInterface, doctorID, name, specialization, licenseNumber, hospital, contact string) error {
	if err := base.Require("doctorId", doctorID); err != nil {
		return err
	}
	if err := base.Require("name", name); err != nil {
		return err
	}
	if err := base.Require("specialization", specialization); err != nil {
		return err
	}
	if err := base.Require("licenseNumber", licenseNumber); err != nil {
		return err
	}
	if err := base.Require("hospital", hospital); err != nil {
		return err
	}

	existing, err := ctx.GetStub().GetState(keyPrefix + doctorID)
	if err != nil {
		return fmt.Errorf("failed to read from world state: %v", err)
	}
	if existing != nil {
		return base.NewDuplicateIDError("DUPLICATE_DOCTOR", "doctor %s already exists", doctorID)
	}

	licenseKey, err := ctx.GetStub().CreateCompositeKey(licenseIndex, []string{licenseNumber})
	if err != nil {
		return fmt.Errorf("failed to create license index key: %v", err)
	}
	holder, err := ctx.GetStub().GetState(licenseKey)
	if err != nil {
		return fmt.Errorf("failed to read license index: %v", err)
	}
	if holder != nil {
		return base.NewDuplicateIDError("DUPLICATE_LICENSE", "license %s is already registered", licenseNumber)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	credential := DoctorCredential{
		DocType:            docType,
		DoctorID:           doctorID,
		Name:               name,
		Specialization:     specialization,
		LicenseNumber:      licenseNumber,
		Hospital:           hospital,
		Contact:            contact,
		VerificationStatus: StatusPending,
		Reviews:            []Review{},
		RegisteredAt:       txTime,
	}

	if err := d.putCredential(ctx, &credential); err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(licenseKey, []byte(doctorID)); err != nil {
		return fmt.Errorf("failed to put license index: %v", err)
	}

	return emitDoctorEvent(ctx, "DoctorRegistered", doctorID, txTime)
}

// GetDoctor retrieves a doctor credential by ID.
func (d *DoctorCredentialContract) GetDoctor(ctx contractapi.TransactionContextInterface, doctorID string) (*DoctorCredential, error) {
	credentialJSON, err := ctx.GetStub().GetState(keyPrefix + doctorID)
	if err != nil {
		return nil, fmt.Errorf("failed to read from world state: %v", err)
	}
	if credentialJSON == nil {
		return nil, base.NewNotFoundError("DOCTOR_NOT_FOUND", "doctor %s does not exist", doctorID)
	}

	var credential DoctorCredential
	if err := json.Unmarshal(credentialJSON, &credential); err != nil {
		return nil, err
	}

	return &credential, nil
}

// VerifyDoctor resolves a pending registration to verified or rejected.
func (d *DoctorCredentialContract) VerifyDoctor(ctx contractapi.TransactionContextInterface, doctorID string, approve bool, verifierID string) error {
	if err := base.Require("verifierId", verifierID); err != nil {
		return err
	}

	credential, err := d.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	if credential.VerificationStatus != StatusPending {
		return base.NewInvalidTransitionError("INVALID_TRANSITION", "doctor %s is %s, verification requires pending", doctorID, credential.VerificationStatus)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	if approve {
		credential.VerificationStatus = StatusVerified
	} else {
		credential.VerificationStatus = StatusRejected
	}
	credential.VerifiedBy = verifierID
	credential.VerifiedAt = &txTime

	if err := d.putCredential(ctx, credential); err != nil {
		return err
	}

	return emitDoctorEvent(ctx, "DoctorVerified", doctorID, txTime)
}

// AddReview appends a patient review and folds the rating into the running
// aggregate in the same write.
func (d *DoctorCredentialContract) AddReview(ctx contractapi.TransactionContextInterface, doctorID string, rating int, comment, reviewerID string) error {
	if rating < minRating || rating > maxRating {
		return base.NewBusinessRuleError("INVALID_RATING", "rating must be between %d and %d, got %d", minRating, maxRating, rating)
	}
	if err := base.Require("reviewerId", reviewerID); err != nil {
		return err
	}

	credential, err := d.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	credential.RatingSum += rating
	credential.RatingCount++
	credential.Reviews = append(credential.Reviews, Review{
		ReviewerID: reviewerID,
		Rating:     rating,
		Comment:    comment,
		ReviewedAt: txTime,
	})

	if err := d.putCredential(ctx, credential); err != nil {
		return err
	}

	return emitDoctorEvent(ctx, "DoctorReviewed", doctorID, txTime)
}

// SuspendDoctor suspends a verified doctor.
func (d *DoctorCredentialContract) SuspendDoctor(ctx contractapi.TransactionContextInterface, doctorID, reason string) error {
	if err := base.Require("reason", reason); err != nil {
		return err
	}

	credential, err := d.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	if credential.VerificationStatus != StatusVerified {
		return base.NewInvalidTransitionError("INVALID_TRANSITION", "doctor %s is %s, only verified doctors can be suspended", doctorID, credential.VerificationStatus)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	credential.VerificationStatus = StatusSuspended
	credential.SuspensionReason = reason
	credential.SuspendedAt = &txTime

	if err := d.putCredential(ctx, credential); err != nil {
		return err
	}

	return emitDoctorEvent(ctx, "DoctorSuspended", doctorID, txTime)
}

// ReinstateDoctor lifts a suspension, returning the doctor to verified.
func (d *DoctorCredentialContract) ReinstateDoctor(ctx contractapi.TransactionContextInterface, doctorID string) error {
	credential, err := d.GetDoctor(ctx, doctorID)
	if err != nil {
		return err
	}
	if credential.VerificationStatus != StatusSuspended {
		return base.NewInvalidTransitionError("INVALID_TRANSITION", "doctor %s is %s, only suspended doctors can be reinstated", doctorID, credential.VerificationStatus)
	}

	txTime, err := base.TxTime(ctx)
	if err != nil {
		return err
	}

	credential.VerificationStatus = StatusVerified
	credential.SuspensionReason = ""
	credential.SuspendedAt = nil

	if err := d.putCredential(ctx, credential); err != nil {
		return err
	}

	return emitDoctorEvent(ctx, "DoctorReinstated", doctorID, txTime)
}

// GetDoctorsBySpecialization returns verified doctors in a specialization,
// best-rated first. Ordering is computed here after retrieval; the selector
// carries no sort clause.
func (d *DoctorCredentialContract) GetDoctorsBySpecialization(ctx contractapi.TransactionContextInterface, specialization string) ([]*DoctorCredential, error) {
	query := base.Selector(map[string]interface{}{
		"docType":            docType,
		"specialization":     specialization,
		"verificationStatus": StatusVerified,
	})

	values, err := base.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}

	doctors, err := unmarshalDoctors(values)
	if err != nil {
		return nil, err
	}
	sortByRating(doctors)

	return doctors, nil
}

// GetDoctorsBySpecializationPaginated returns one page of a specialization's
// verified doctors.
func (d *DoctorCredentialContract) GetDoctorsBySpecializationPaginated(ctx contractapi.TransactionContextInterface, specialization string, pageSize int, bookmark string) (*PagedDoctors, error) {
	if pageSize <= 0 {
		return nil, base.NewValidationError("INVALID_PAGE_SIZE", "pageSize must be positive, got %d", pageSize)
	}

	query := base.Selector(map[string]interface{}{
		"docType":            docType,
		"specialization":     specialization,
		"verificationStatus": StatusVerified,
	})

	values, nextBookmark, err := base.QueryPage(ctx, query, int32(pageSize), bookmark)
	if err != nil {
		return nil, err
	}

	doctors, err := unmarshalDoctors(values)
	if err != nil {
		return nil, err
	}
	sortByRating(doctors)

	return &PagedDoctors{Records: doctors, Bookmark: nextBookmark}, nil
}

// GetDoctorsByHospital returns verified doctors at a hospital, best-rated
// first.
func (d *DoctorCredentialContract) GetDoctorsByHospital(ctx contractapi.TransactionContextInterface, hospital string) ([]*DoctorCredential, error) {
	query := base.Selector(map[string]interface{}{
		"docType":            docType,
		"hospital":           hospital,
		"verificationStatus": StatusVerified,
	})

	values, err := base.QueryAll(ctx, query)
	if err != nil {
		return nil, err
	}

	doctors, err := unmarshalDoctors(values)
	if err != nil {
		return nil, err
	}
	sortByRating(doctors)

	return doctors, nil
}

func (d *DoctorCredentialContract) putCredential(ctx contractapi.TransactionContextInterface, credential *DoctorCredential) error {
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return err
	}
	if err := ctx.GetStub().PutState(keyPrefix+credential.DoctorID, credentialJSON); err != nil {
		return fmt.Errorf("failed to put doctor credential to world state: %v", err)
	}
	return nil
}

func unmarshalDoctors(values [][]byte) ([]*DoctorCredential, error) {
	var doctors []*DoctorCredential
	for _, value := range values {
		var credential DoctorCredential
		if err := json.Unmarshal(value, &credential); err != nil {
			return nil, err
		}
		doctors = append(doctors, &credential)
	}
	return doctors, nil
}

// sortByRating orders by average rating descending. Comparing cross-products
// avoids float division; unreviewed doctors sort last, doctor ID as
// tie-break.
func sortByRating(doctors []*DoctorCredential) {
	sort.Slice(doctors, func(i, j int) bool {
		a, b := doctors[i], doctors[j]
		if a.RatingCount == 0 || b.RatingCount == 0 {
			if (a.RatingCount == 0) != (b.RatingCount == 0) {
				return b.RatingCount == 0
			}
			return a.DoctorID < b.DoctorID
		}
		left := a.RatingSum * b.RatingCount
		right := b.RatingSum * a.RatingCount
		if left != right {
			return left > right
		}
		return a.DoctorID < b.DoctorID
	})
}

func emitDoctorEvent(ctx contractapi.TransactionContextInterface, name, doctorID string, txTime time.Time) error {
	payload, err := json.Marshal(map[string]interface{}{
		"doctorId":  doctorID,
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
