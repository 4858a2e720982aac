package base

import (
	"encoding/json"
	"fmt"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// Selector builds a CouchDB rich query from field equalities. The query never
// carries a sort clause: store-level sort requires an index covering the
// sorted field on every deployment target, so all ordering happens in
// application code after retrieval.
func Selector(fields map[string]interface{}) string {
	query := map[string]interface{}{
		"selector": fields,
	}
	queryJSON, _ := json.Marshal(query)
	return string(queryJSON)
}

// QueryAll executes a rich query and returns the raw document values in store
// order. Callers unmarshal and sort.
func QueryAll(ctx contractapi.TransactionContextInterface, query string) ([][]byte, error) {
	resultsIterator, err := ctx.GetStub().GetQueryResult(query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %v", err)
	}
	defer resultsIterator.Close()

	var values [][]byte
	for resultsIterator.HasNext() {
		queryResponse, err := resultsIterator.Next()
		if err != nil {
			return nil, err
		}
		values = append(values, queryResponse.Value)
	}

	return values, nil
}

// QueryPage executes a paginated rich query and returns the raw document
// values plus the bookmark for the next page. Bookmarks are opaque cursors
// issued by the store and must be passed back verbatim.
func QueryPage(ctx contractapi.TransactionContextInterface, query string, pageSize int32, bookmark string) ([][]byte, string, error) {
	resultsIterator, metadata, err := ctx.GetStub().GetQueryResultWithPagination(query, pageSize, bookmark)
	if err != nil {
		return nil, "", fmt.Errorf("failed to execute paginated query: %v", err)
	}
	defer resultsIterator.Close()

	var values [][]byte
	for resultsIterator.HasNext() {
		queryResponse, err := resultsIterator.Next()
		if err != nil {
			return nil, "", err
		}
		values = append(values, queryResponse.Value)
	}

	return values, metadata.Bookmark, nil
}
