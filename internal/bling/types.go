package bling

import (
	"encoding/json"

	"github.com/setalabs/blingsync/internal/domain/model"
)

// listResponse is the envelope every Bling v3 collection endpoint returns.
// Records are kept raw; the mapper owns their interpretation.
type listResponse struct {
	Data []json.RawMessage `json:"data"`
}

// apiError is the Bling v3 error envelope.
type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Message     string `json:"message"`
		Description string `json:"description"`
	} `json:"error"`
}

// collectionPath maps a sync kind onto its Bling v3 endpoint.
func collectionPath(kind model.SyncKind) (string, bool) {
	switch kind {
	case model.SyncKindOrders:
		return "/pedidos/vendas", true
	case model.SyncKindProducts:
		return "/produtos", true
	case model.SyncKindCustomers:
		return "/contatos", true
	default:
		return "", false
	}
}

// changedSinceLayout is the timestamp format Bling accepts for the
// dataAlteracaoInicial filter.
const changedSinceLayout = "2006-01-02 15:04:05"
