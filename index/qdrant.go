// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/rank"
)

// QdrantSignal is a vector signal backed by a Qdrant collection over its
// REST API. The document scope is pushed into the search request as a
// payload filter, so Qdrant ranks only in-scope points.
type QdrantSignal struct {
	host       string
	collection string
	client     *http.Client
}

var _ rank.Signal = (*QdrantSignal)(nil)
var _ rank.QueryVectorConsumer = (*QdrantSignal)(nil)

// NewQdrantSignal creates a signal over the given collection.
// host is the Qdrant base URL, e.g. "http://localhost:6333".
func NewQdrantSignal(host, collection string) *QdrantSignal {
	return &QdrantSignal{
		host:       strings.TrimRight(host, "/"),
		collection: collection,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (q *QdrantSignal) Name() string {
	return "vector"
}

// ConsumesQueryVector marks that Rank reads Query.Vector.
func (q *QdrantSignal) ConsumesQueryVector() {}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string          `json:"key"`
	Match qdrantMatchAny  `json:"match"`
}

type qdrantMatchAny struct {
	Any []string `json:"any"`
}

type qdrantSearchRequest struct {
	Vector []float32     `json:"vector"`
	Limit  int           `json:"limit"`
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type qdrantSearchResponse struct {
	Result []struct {
		Id    uint64  `json:"id"`
		Score float64 `json:"score"`
	} `json:"result"`
	Status string `json:"status"`
}

func (q *QdrantSignal) Rank(ctx context.Context, query rank.Query, scope core.Scope, limit int) ([]rank.Candidate, error) {
	if len(query.Vector) == 0 || len(scope.DocumentIds) == 0 {
		return nil, nil
	}

	reqBody := qdrantSearchRequest{
		Vector: query.Vector,
		Limit:  limit,
		Filter: &qdrantFilter{Must: []qdrantCondition{{
			Key:   "document_id",
			Match: qdrantMatchAny{Any: scope.DocumentIds},
		}}},
	}

	var resp qdrantSearchResponse
	url := fmt.Sprintf("%s/collections/%s/points/search", q.host, q.collection)
	if err := q.post(ctx, url, reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant search status %q", resp.Status)
	}

	candidates := make([]rank.Candidate, 0, len(resp.Result))
	for _, point := range resp.Result {
		candidates = append(candidates, rank.Candidate{
			ChunkId:  core.ID(point.Id),
			Score:    point.Score,
			Distance: 1 - point.Score,
		})
	}
	return candidates, nil
}

type qdrantPoint struct {
	Id      uint64         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes chunk vectors as points. The document id and owner land in
// the payload so scope filters apply server-side.
func (q *QdrantSignal) Upsert(ctx context.Context, chunks ...*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(chunks))
	for _, chunk := range chunks {
		points = append(points, qdrantPoint{
			Id:     uint64(chunk.Id),
			Vector: chunk.Vector,
			Payload: map[string]any{
				"document_id": chunk.DocumentId,
				"owner_sub":   chunk.OwnerSub,
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", q.host, q.collection)
	return q.put(ctx, url, map[string]any{"points": points})
}

// DeleteByDocument removes every point of a document.
func (q *QdrantSignal) DeleteByDocument(ctx context.Context, documentID string) error {
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", q.host, q.collection)
	body := map[string]any{
		"filter": qdrantFilter{Must: []qdrantCondition{{
			Key:   "document_id",
			Match: qdrantMatchAny{Any: []string{documentID}},
		}}},
	}
	return q.post(ctx, url, body, nil)
}

func (q *QdrantSignal) post(ctx context.Context, url string, body, out any) error {
	return q.do(ctx, http.MethodPost, url, body, out)
}

func (q *QdrantSignal) put(ctx context.Context, url string, body any) error {
	return q.do(ctx, http.MethodPut, url, body, nil)
}

func (q *QdrantSignal) do(ctx context.Context, method, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling qdrant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("qdrant returned %d: %s", resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
