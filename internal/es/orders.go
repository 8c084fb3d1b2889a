package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/Skotchmaster/storefront/internal/models"
)

const orderMapping = `{
  "mappings": {
    "properties": {
      "order_id":       {"type": "keyword"},
      "transaction_id": {"type": "keyword"},
      "billing_email":  {"type": "keyword"},
      "payment_status": {"type": "keyword"},
      "created_at":     {"type": "date"}
    }
  }
}`

// OrderIndex keeps a searchable copy of orders for the admin lookup.
type OrderIndex struct {
	client *elasticsearch.Client
	index  string
}

func NewOrderIndex(client *elasticsearch.Client, index string) *OrderIndex {
	return &OrderIndex{client: client, index: index}
}

// orderDoc adds the lower-cased billing email used for exact lookups.
type orderDoc struct {
	*models.Order
	BillingEmail string `json:"billing_email"`
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (x *OrderIndex) EnsureIndex(ctx context.Context) error {
	res, err := x.client.Indices.Exists([]string{x.index}, x.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("es: index exists: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = x.client.Indices.Create(x.index,
		x.client.Indices.Create.WithContext(ctx),
		x.client.Indices.Create.WithBody(strings.NewReader(orderMapping)),
	)
	if err != nil {
		return fmt.Errorf("es: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("create index", res.Status(), res.Body)
	}
	return nil
}

func (x *OrderIndex) IndexOrder(ctx context.Context, o *models.Order) error {
	body, err := json.Marshal(orderDoc{Order: o, BillingEmail: strings.ToLower(o.Billing.Email)})
	if err != nil {
		return fmt.Errorf("es: encode order: %w", err)
	}
	res, err := x.client.Index(x.index, bytes.NewReader(body),
		x.client.Index.WithContext(ctx),
		x.client.Index.WithDocumentID(o.OrderID),
	)
	if err != nil {
		return fmt.Errorf("es: index order: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("index order", res.Status(), res.Body)
	}
	return nil
}

func (x *OrderIndex) SearchOrders(ctx context.Context, transactionID, email string, size int) ([]models.Order, error) {
	var filters []any
	if transactionID != "" {
		filters = append(filters, map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{"term": map[string]any{"transaction_id": transactionID}},
					map[string]any{"term": map[string]any{"order_id": transactionID}},
				},
				"minimum_should_match": 1,
			},
		})
	}
	if email != "" {
		filters = append(filters, map[string]any{"term": map[string]any{"billing_email": strings.ToLower(email)}})
	}
	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"sort":  []any{map[string]any{"created_at": "desc"}},
		"size":  size,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("es: encode query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.index),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("es: search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res.Status(), res.Body)
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source models.Order `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("es: decode search: %w", err)
	}

	orders := make([]models.Order, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		orders[i] = hit.Source
	}
	return orders, nil
}

func responseError(op, status string, body io.Reader) error {
	b, _ := io.ReadAll(io.LimitReader(body, 1<<10))
	return fmt.Errorf("es: %s: %s: %s", op, status, bytes.TrimSpace(b))
}
