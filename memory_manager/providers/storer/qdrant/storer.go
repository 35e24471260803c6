package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/w-h-a/workmem/memory_manager/providers/storer"
	getsafe "github.com/w-h-a/workmem/util/get_safe"
)

const scrollPage = 256

type qdrantStorer struct {
	options storer.Options
	client  *http.Client
}

func (s *qdrantStorer) Insert(ctx context.Context, rec storer.Record) (storer.Record, error) {
	if err := storer.CheckDimensions(s.options.Dimensions, rec.Embedding); err != nil {
		return storer.Record{}, err
	}

	rec = storer.Stamp(rec, uuid.New().String(), time.Now())

	req := qdrantUpsertRequest{
		Points: []qdrantPoint{
			{
				Id:     rec.Id,
				Vector: rec.Embedding,
				Payload: qdrantPayload{
					Summary:     rec.Summary,
					SessionKey:  rec.SessionKey,
					Origin:      string(rec.Origin),
					CreatedAt:   rec.CreatedAt.UnixMilli(),
					HasAction:   rec.HasAction,
					HasDecision: rec.HasDecision,
					Topics:      rec.Topics,
					Reference: qdrantReference{
						SourcePath:     rec.Reference.SourcePath,
						FirstMessageId: rec.Reference.FirstMessageId,
						LastMessageId:  rec.Reference.LastMessageId,
					},
				},
			},
		},
	}

	if err := s.write(ctx, http.MethodPut, s.path("/points?wait=true"), req); err != nil {
		return storer.Record{}, err
	}

	return rec, nil
}

func (s *qdrantStorer) Delete(ctx context.Context, id string) error {
	req := qdrantDeleteRequest{Points: []string{id}}

	// qdrant acknowledges deletes of unknown ids
	return s.write(ctx, http.MethodPost, s.path("/points/delete?wait=true"), req)
}

func (s *qdrantStorer) Scan(ctx context.Context) ([]storer.Record, error) {
	return s.scroll(ctx, nil)
}

func (s *qdrantStorer) Search(ctx context.Context, vector []float32, limit int) ([]storer.Record, error) {
	if limit < 1 {
		return nil, nil
	}

	if err := storer.CheckDimensions(s.options.Dimensions, vector); err != nil {
		return nil, err
	}

	req := qdrantSearchRequest{
		Vector:      vector,
		Limit:       limit,
		WithVector:  true,
		WithPayload: true,
	}

	var rsp qdrantEnvelope[[]qdrantPointResult]

	if err := s.do(ctx, http.MethodPost, s.path("/points/search"), req, &rsp); err != nil {
		return nil, err
	}

	results := make([]storer.Record, 0, len(rsp.Result))

	for _, point := range rsp.Result {
		results = append(results, toRecord(point))
	}

	return results, nil
}

func (s *qdrantStorer) Recent(ctx context.Context, limit int, window time.Duration) ([]storer.Record, error) {
	if limit < 1 {
		return nil, nil
	}

	var filter *qdrantFilter
	if window > 0 {
		filter = &qdrantFilter{
			Must: []qdrantCondition{
				{Key: "created_at", Range: qdrantRange{Gte: time.Now().UTC().Add(-window).UnixMilli()}},
			},
		}
	}

	records, err := s.scroll(ctx, filter)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if len(records) > limit {
		records = records[:limit]
	}

	return records, nil
}

func (s *qdrantStorer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *qdrantStorer) scroll(ctx context.Context, filter *qdrantFilter) ([]storer.Record, error) {
	var records []storer.Record
	var offset any

	for {
		req := qdrantScrollRequest{
			Limit:       scrollPage,
			Filter:      filter,
			Offset:      offset,
			WithVector:  true,
			WithPayload: true,
		}

		var rsp qdrantEnvelope[qdrantScrollResult]

		if err := s.do(ctx, http.MethodPost, s.path("/points/scroll"), req, &rsp); err != nil {
			return nil, err
		}

		for _, point := range rsp.Result.Points {
			records = append(records, toRecord(point))
		}

		if rsp.Result.NextPageOffset == nil || len(rsp.Result.Points) == 0 {
			break
		}

		offset = rsp.Result.NextPageOffset
	}

	return records, nil
}

func toRecord(point qdrantPointResult) storer.Record {
	payload := point.Payload
	reference := getsafe.Metadata(payload, "reference")

	return storer.Record{
		Id:          fmt.Sprint(point.Id),
		Summary:     getsafe.String(payload, "summary"),
		Embedding:   point.Vector,
		SessionKey:  getsafe.String(payload, "session_key"),
		Origin:      storer.ParseOrigin(getsafe.String(payload, "origin")),
		CreatedAt:   time.UnixMilli(getsafe.Int64(payload, "created_at")).UTC(),
		HasAction:   getsafe.Bool(payload, "has_action"),
		HasDecision: getsafe.Bool(payload, "has_decision"),
		Topics:      getsafe.Strings(payload, "topics"),
		Reference: storer.Reference{
			SourcePath:     getsafe.String(reference, "source_path"),
			FirstMessageId: getsafe.String(reference, "first_message_id"),
			LastMessageId:  getsafe.String(reference, "last_message_id"),
		},
		Score: float32(point.Score),
	}
}

func (s *qdrantStorer) path(suffix string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.options.Collection), suffix)
}

func (s *qdrantStorer) write(ctx context.Context, method string, path string, req any) error {
	var rsp qdrantEnvelope[json.RawMessage]

	if err := s.do(ctx, method, path, req, &rsp); err != nil {
		return err
	}

	if !strings.EqualFold(rsp.Status.State, "ok") && len(rsp.Status.Error) > 0 {
		return errors.New(rsp.Status.Error)
	}

	return nil
}

func (s *qdrantStorer) do(ctx context.Context, method string, path string, req any, rsp any) error {
	u := s.options.Location + path
	var buf io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")

	if len(s.options.ApiKey) > 0 {
		request.Header.Set("api-key", s.options.ApiKey)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode == http.StatusNotFound {
		return errNotFound
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("qdrant http %d: %s", response.StatusCode, string(payload))
	}

	if rsp != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, rsp); err != nil {
			return err
		}
	}

	return nil
}

var errNotFound = errors.New("qdrant: not found")

func (s *qdrantStorer) configure(ctx context.Context) error {
	var rsp qdrantEnvelope[json.RawMessage]

	err := s.do(ctx, http.MethodGet, s.path(""), nil, &rsp)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}

	req := qdrantCollectionRequest{
		Vectors: qdrantVectorParams{Size: s.options.Dimensions, Distance: "Cosine"},
	}

	if err := s.write(ctx, http.MethodPut, s.path(""), req); err != nil {
		return err
	}

	index := qdrantIndexRequest{FieldName: "created_at", FieldSchema: "integer"}

	return s.write(ctx, http.MethodPut, s.path("/index?wait=true"), index)
}

func NewStorer(opts ...storer.Option) storer.Storer {
	options := storer.NewOptions(opts...)

	if len(options.Location) == 0 ||
		len(options.Collection) == 0 ||
		options.Dimensions == 0 {
		panic("missing location, collection, or dimensions for qdrant storer")
	}

	options.Location = strings.TrimSuffix(options.Location, "/")

	client := &http.Client{
		Timeout: 15 * time.Second,
	}

	s := &qdrantStorer{
		options: options,
		client:  client,
	}

	if err := s.configure(context.Background()); err != nil {
		panic(err)
	}

	return s
}
