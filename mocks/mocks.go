// Package mocks provides the shared test doubles used by every contract's
// unit tests: a transaction context and client identity driven by testify
// expectations, and a stateful chaincode stub backed by an in-memory world
// state.
package mocks

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"

	"github.com/golang/protobuf/ptypes/timestamp"
	"github.com/hyperledger/fabric-chaincode-go/pkg/cid"
	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/mock"
)

// TransactionContext mocks contractapi.TransactionContextInterface.
type TransactionContext struct {
	mock.Mock
}

func (c *TransactionContext) GetStub() shim.ChaincodeStubInterface {
	args := c.Called()
	return args.Get(0).(shim.ChaincodeStubInterface)
}

func (c *TransactionContext) GetClientIdentity() cid.ClientIdentity {
	args := c.Called()
	return args.Get(0).(cid.ClientIdentity)
}

// ClientIdentity mocks cid.ClientIdentity.
type ClientIdentity struct {
	mock.Mock
}

func (m *ClientIdentity) GetID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *ClientIdentity) GetMSPID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *ClientIdentity) GetAttributeValue(attrName string) (string, bool, error) {
	args := m.Called(attrName)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *ClientIdentity) AssertAttributeValue(attrName, attrValue string) error {
	args := m.Called(attrName, attrValue)
	return args.Error(0)
}

func (m *ClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	args := m.Called()
	cert, _ := args.Get(0).(*x509.Certificate)
	return cert, args.Error(1)
}

// Event captures a chaincode event emitted during a test.
type Event struct {
	Name    string
	Payload []byte
}

// ChaincodeStub is a stateful fake of shim.ChaincodeStubInterface. Reads and
// writes go against the State map; rich queries return the configured
// QueryResults. Interface methods the contracts never touch are inherited
// from the embedded nil interface and panic if called.
type ChaincodeStub struct {
	shim.ChaincodeStubInterface

	State       map[string][]byte
	TxID        string
	TxTimestamp *timestamp.Timestamp

	// Rich query fixtures and captured queries.
	QueryResults   []*queryresult.KV
	NextBookmark   string
	Queries        []string
	HistoryResults []*queryresult.KeyModification

	// Captured emitted events.
	Events []Event

	// Error injection.
	GetStateErr    error
	PutStateErr    error
	QueryErr       error
	HistoryErr     error
	TxTimestampErr error
}

// NewStub returns a stub with an empty world state and the given transaction
// identity and timestamp.
func NewStub(txID string, txTime time.Time) *ChaincodeStub {
	return &ChaincodeStub{
		State: make(map[string][]byte),
		TxID:  txID,
		TxTimestamp: &timestamp.Timestamp{
			Seconds: txTime.Unix(),
			Nanos:   int32(txTime.Nanosecond()),
		},
	}
}

func (s *ChaincodeStub) GetState(key string) ([]byte, error) {
	if s.GetStateErr != nil {
		return nil, s.GetStateErr
	}
	return s.State[key], nil
}

func (s *ChaincodeStub) PutState(key string, value []byte) error {
	if s.PutStateErr != nil {
		return s.PutStateErr
	}
	if s.State == nil {
		s.State = make(map[string][]byte)
	}
	s.State[key] = value
	return nil
}

func (s *ChaincodeStub) GetTxID() string {
	return s.TxID
}

func (s *ChaincodeStub) GetTxTimestamp() (*timestamp.Timestamp, error) {
	if s.TxTimestampErr != nil {
		return nil, s.TxTimestampErr
	}
	return s.TxTimestamp, nil
}

func (s *ChaincodeStub) SetEvent(name string, payload []byte) error {
	s.Events = append(s.Events, Event{Name: name, Payload: payload})
	return nil
}

func (s *ChaincodeStub) CreateCompositeKey(objectType string, attributes []string) (string, error) {
	return "\x00" + objectType + "\x00" + strings.Join(attributes, "\x00") + "\x00", nil
}

func (s *ChaincodeStub) GetQueryResult(query string) (shim.StateQueryIteratorInterface, error) {
	s.Queries = append(s.Queries, query)
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return &StateQueryIterator{Results: s.QueryResults}, nil
}

func (s *ChaincodeStub) GetQueryResultWithPagination(query string, pageSize int32, bookmark string) (shim.StateQueryIteratorInterface, *peer.QueryResponseMetadata, error) {
	s.Queries = append(s.Queries, query)
	if s.QueryErr != nil {
		return nil, nil, s.QueryErr
	}
	metadata := &peer.QueryResponseMetadata{
		FetchedRecordsCount: int32(len(s.QueryResults)),
		Bookmark:            s.NextBookmark,
	}
	return &StateQueryIterator{Results: s.QueryResults}, metadata, nil
}

func (s *ChaincodeStub) GetHistoryForKey(key string) (shim.HistoryQueryIteratorInterface, error) {
	if s.HistoryErr != nil {
		return nil, s.HistoryErr
	}
	return &HistoryQueryIterator{Results: s.HistoryResults}, nil
}

// StateQueryIterator iterates over fixed query results.
type StateQueryIterator struct {
	Results []*queryresult.KV
	Index   int
}

func (it *StateQueryIterator) HasNext() bool {
	return it.Index < len(it.Results)
}

func (it *StateQueryIterator) Next() (*queryresult.KV, error) {
	if it.Index >= len(it.Results) {
		return nil, fmt.Errorf("no more results")
	}
	result := it.Results[it.Index]
	it.Index++
	return result, nil
}

func (it *StateQueryIterator) Close() error {
	return nil
}

// HistoryQueryIterator iterates over fixed key-history results.
type HistoryQueryIterator struct {
	Results []*queryresult.KeyModification
	Index   int
}

func (it *HistoryQueryIterator) HasNext() bool {
	return it.Index < len(it.Results)
}

func (it *HistoryQueryIterator) Next() (*queryresult.KeyModification, error) {
	if it.Index >= len(it.Results) {
		return nil, fmt.Errorf("no more results")
	}
	result := it.Results[it.Index]
	it.Index++
	return result, nil
}

func (it *HistoryQueryIterator) Close() error {
	return nil
}
