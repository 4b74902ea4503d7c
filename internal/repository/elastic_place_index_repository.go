package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olivere/elastic/v7"

	"place-service/internal/errs"
	"place-service/internal/models"
)

const placeIndexMapping = `{
  "mappings": {
    "properties": {
      "oid":        {"type": "keyword"},
      "name":       {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "location":   {"type": "geo_point"},
      "created_at": {"type": "date"}
    }
  }
}`

type elasticPlaceDoc struct {
	OID       string            `json:"oid"`
	Name      string            `json:"name"`
	Location  *elastic.GeoPoint `json:"location"`
	CreatedAt time.Time         `json:"created_at"`
}

// ElasticPlaceIndexRepository keeps the geo index in an Elasticsearch index
// with a geo_point field. Documents are keyed by oid.
type ElasticPlaceIndexRepository struct {
	Client *elastic.Client
	Index  string
}

// NewElasticPlaceIndexRepository connects to url and makes sure the index exists.
func NewElasticPlaceIndexRepository(ctx context.Context, url, index string) (*ElasticPlaceIndexRepository, error) {
	client, err := elastic.NewClient(elastic.SetURL(url), elastic.SetSniff(false))
	if err != nil {
		return nil, errs.Storage("geoindex.open", err)
	}
	r := &ElasticPlaceIndexRepository{Client: client, Index: index}
	if err := r.ensureIndex(ctx); err != nil {
		client.Stop()
		return nil, err
	}
	return r, nil
}

func (r *ElasticPlaceIndexRepository) ensureIndex(ctx context.Context) error {
	exists, err := r.Client.IndexExists(r.Index).Do(ctx)
	if err != nil {
		return errs.Storage("geoindex.migrate", err)
	}
	if exists {
		return nil
	}
	if _, err := r.Client.CreateIndex(r.Index).BodyString(placeIndexMapping).Do(ctx); err != nil {
		return errs.Storage("geoindex.migrate", err)
	}
	return nil
}

// Insert indexes the document with op_type=create, so an existing oid is
// rejected by the server instead of overwritten.
func (r *ElasticPlaceIndexRepository) Insert(ctx context.Context, oid, name string, point models.Point) error {
	doc := elasticPlaceDoc{
		OID:       oid,
		Name:      name,
		Location:  elastic.GeoPointFromLatLon(point.Latitude, point.Longitude),
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.Client.Index().
		Index(r.Index).
		Id(oid).
		OpType("create").
		BodyJson(doc).
		Refresh("wait_for").
		Do(ctx)
	if elastic.IsConflict(err) {
		return &errs.DuplicateKeyError{Key: oid}
	}
	return errs.Storage("geoindex.insert", err)
}

// QueryNearby filters by geo_distance and sorts by arc distance, nearest first.
func (r *ElasticPlaceIndexRepository) QueryNearby(ctx context.Context, point models.Point, radiusKm float64, limit int) ([]models.PlaceIndexEntry, error) {
	query := elastic.NewBoolQuery().Filter(
		elastic.NewGeoDistanceQuery("location").
			Point(point.Latitude, point.Longitude).
			Distance(fmt.Sprintf("%fkm", radiusKm)).
			DistanceType("arc"),
	)

	searchResult, err := r.Client.Search().
		Index(r.Index).
		Query(query).
		SortBy(
			elastic.NewGeoDistanceSort("location").
				Point(point.Latitude, point.Longitude).
				Asc().
				Unit("km").
				DistanceType("arc"),
			elastic.NewFieldSort("oid").Asc(),
		).
		Size(normalizeLimit(limit)).
		Do(ctx)
	if err != nil {
		return nil, errs.Storage("geoindex.query", err)
	}

	entries := make([]models.PlaceIndexEntry, 0, len(searchResult.Hits.Hits))
	for _, hit := range searchResult.Hits.Hits {
		var doc elasticPlaceDoc
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			continue
		}
		e := models.PlaceIndexEntry{
			OID:       doc.OID,
			Name:      doc.Name,
			CreatedAt: doc.CreatedAt,
		}
		if doc.Location != nil {
			e.Position = models.Point{Latitude: doc.Location.Lat, Longitude: doc.Location.Lon}
		}
		if len(hit.Sort) > 0 {
			e.DistanceKm = sortValueFloat(hit.Sort[0])
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func sortValueFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// List pages through documents with search_after on the oid keyword.
func (r *ElasticPlaceIndexRepository) List(ctx context.Context, afterOID string, batch int) ([]models.PlaceIndexEntry, error) {
	search := r.Client.Search().
		Index(r.Index).
		Query(elastic.NewMatchAllQuery()).
		SortBy(elastic.NewFieldSort("oid").Asc()).
		Size(batch)
	if afterOID != "" {
		search = search.SearchAfter(afterOID)
	}
	searchResult, err := search.Do(ctx)
	if err != nil {
		return nil, errs.Storage("geoindex.list", err)
	}
	entries := make([]models.PlaceIndexEntry, 0, len(searchResult.Hits.Hits))
	for _, hit := range searchResult.Hits.Hits {
		var doc elasticPlaceDoc
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			continue
		}
		entries = append(entries, models.PlaceIndexEntry{OID: hit.Id, Name: doc.Name, CreatedAt: doc.CreatedAt})
	}
	return entries, nil
}

// Delete removes the document for oid.
func (r *ElasticPlaceIndexRepository) Delete(ctx context.Context, oid string) error {
	_, err := r.Client.Delete().Index(r.Index).Id(oid).Refresh("wait_for").Do(ctx)
	if elastic.IsNotFound(err) {
		return nil
	}
	return errs.Storage("geoindex.delete", err)
}

// Count returns the number of indexed documents.
func (r *ElasticPlaceIndexRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.Client.Count(r.Index).Do(ctx)
	if err != nil {
		return 0, errs.Storage("geoindex.count", err)
	}
	return n, nil
}

// Close stops the client's background goroutines.
func (r *ElasticPlaceIndexRepository) Close() error {
	r.Client.Stop()
	return nil
}
