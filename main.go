package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/deveshyaara/Healthlink-RPC-sub000/appointments"
	"github.com/deveshyaara/Healthlink-RPC-sub000/consent"
	"github.com/deveshyaara/Healthlink-RPC-sub000/credentials"
	"github.com/deveshyaara/Healthlink-RPC-sub000/prescriptions"
	"github.com/deveshyaara/Healthlink-RPC-sub000/records"
)

func main() {
	chaincode, err := contractapi.NewChaincode(
		&consent.ConsentContract{},
		&records.MedicalRecordContract{},
		&credentials.DoctorCredentialContract{},
		&appointments.AppointmentContract{},
		&prescriptions.PrescriptionContract{},
	)
	if err != nil {
		log.Panicf("Error creating HealthLink chaincode: %v", err)
	}

	if err := chaincode.Start(); err != nil {
		log.Panicf("Error starting HealthLink chaincode: %v", err)
	}
}
