// Package mapper translates raw Bling API records into the local mirror
// models. Each record is mapped independently so one malformed record fails
// alone instead of aborting the page.
package mapper

import (
	"encoding/json"
	"time"

	"github.com/setalabs/blingsync/internal/core"
	"github.com/setalabs/blingsync/internal/domain/model"
	apperrors "github.com/setalabs/blingsync/internal/errors"
)

// issuedAtLayout is the date format Bling uses on order records.
const issuedAtLayout = "2006-01-02"

// blingOrder is the subset of a Bling sales order we mirror.
type blingOrder struct {
	ID      int64   `json:"id"`
	Numero  string  `json:"numero"`
	Total   float64 `json:"total"`
	Data    string  `json:"data"`
	Contato struct {
		Nome string `json:"nome"`
	} `json:"contato"`
}

// blingProduct is the subset of a Bling product we mirror.
type blingProduct struct {
	ID      int64      `json:"id"`
	Codigo  string     `json:"codigo"`
	Nome    string     `json:"nome"`
	Preco   float64    `json:"preco"`
	Estoque stockField `json:"estoque"`
}

// stockField accepts both shapes Bling uses for stock: a bare number on
// summarized listings and an object with saldoVirtualTotal on detailed ones.
type stockField float64

func (s *stockField) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*s = stockField(n)
		return nil
	}
	var obj struct {
		SaldoVirtualTotal float64 `json:"saldoVirtualTotal"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = stockField(obj.SaldoVirtualTotal)
	return nil
}

// blingCustomer is the subset of a Bling contact we mirror.
type blingCustomer struct {
	ID              int64  `json:"id"`
	Nome            string `json:"nome"`
	NumeroDocumento string `json:"numeroDocumento"`
	Email           string `json:"email"`
}

// MapOrder maps one raw Bling order record onto the local model.
func MapOrder(tenantID string, raw core.RawRecord) (*model.Order, error) {
	var src blingOrder
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, apperrors.Mapping("", "order record is not valid JSON: "+err.Error())
	}
	if src.ID <= 0 {
		return nil, apperrors.Mapping("id", "order record is missing its Bling id")
	}

	order := &model.Order{
		TenantID:    tenantID,
		ExternalID:  src.ID,
		Number:      src.Numero,
		Total:       src.Total,
		ContactName: src.Contato.Nome,
	}
	if src.Data != "" {
		issuedAt, err := time.Parse(issuedAtLayout, src.Data)
		if err != nil {
			return nil, apperrors.Mapping("data", "order date is not in YYYY-MM-DD form: "+src.Data)
		}
		order.IssuedAt = &issuedAt
	}
	return order, nil
}

// MapProduct maps one raw Bling product record onto the local model.
func MapProduct(tenantID string, raw core.RawRecord) (*model.Product, error) {
	var src blingProduct
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, apperrors.Mapping("", "product record is not valid JSON: "+err.Error())
	}
	if src.ID <= 0 {
		return nil, apperrors.Mapping("id", "product record is missing its Bling id")
	}

	return &model.Product{
		TenantID:   tenantID,
		ExternalID: src.ID,
		Code:       src.Codigo,
		Name:       src.Nome,
		Price:      src.Preco,
		Stock:      float64(src.Estoque),
	}, nil
}

// MapCustomer maps one raw Bling contact record onto the local model.
func MapCustomer(tenantID string, raw core.RawRecord) (*model.Customer, error) {
	var src blingCustomer
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, apperrors.Mapping("", "customer record is not valid JSON: "+err.Error())
	}
	if src.ID <= 0 {
		return nil, apperrors.Mapping("id", "customer record is missing its Bling id")
	}

	return &model.Customer{
		TenantID:   tenantID,
		ExternalID: src.ID,
		Name:       src.Nome,
		Document:   src.NumeroDocumento,
		Email:      src.Email,
	}, nil
}
