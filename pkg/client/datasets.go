package client

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// DatasetsClient manages survey datasets.
type DatasetsClient struct {
	client *Client
}

// Taxonomy is the five-level classification of a species.
type Taxonomy struct {
	Lvl1 string `json:"lvl1"`
	Lvl2 string `json:"lvl2"`
	Lvl3 string `json:"lvl3"`
	Lvl4 string `json:"lvl4"`
	Lvl5 string `json:"lvl5"`
}

// Point is a sampling point.
type Point struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	VConcMl *float64 `json:"vConcMl,omitempty"`
	VOrigL  float64  `json:"vOrigL"`
	Site    *string  `json:"site,omitempty"`
	DepthM  *float64 `json:"depthM,omitempty"`
}

// Species is an observed taxon with its per-point counts.
type Species struct {
	ID              string         `json:"id"`
	NameCn          string         `json:"nameCn"`
	NameLatin       string         `json:"nameLatin"`
	Taxonomy        Taxonomy       `json:"taxonomy"`
	AvgWetWeightMg  *float64       `json:"avgWetWeightMg,omitempty"`
	CountsByPointID map[string]int `json:"countsByPointId"`
}

// Dataset is a full survey table.
type Dataset struct {
	ID               string     `json:"id"`
	TitlePrefix      string     `json:"titlePrefix"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	Points           []Point    `json:"points"`
	Species          []Species  `json:"species"`
	ReadOnly         bool       `json:"readOnly"`
	SnapshotAt       *time.Time `json:"snapshotAt,omitempty"`
	SnapshotSourceID string     `json:"snapshotSourceId,omitempty"`
}

// DatasetSummary is the list-view projection of a Dataset.
type DatasetSummary struct {
	ID               string     `json:"id"`
	TitlePrefix      string     `json:"titlePrefix"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	ReadOnly         bool       `json:"readOnly"`
	SnapshotAt       *time.Time `json:"snapshotAt,omitempty"`
	SnapshotSourceID string     `json:"snapshotSourceId,omitempty"`
	PointsCount      int        `json:"pointsCount"`
	SpeciesCount     int        `json:"speciesCount"`
}

// DatasetList is one page of summaries.
type DatasetList struct {
	Items    []DatasetSummary `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// CreateDatasetRequest opens an empty dataset. A nil DefaultVOrigL uses the
// server setting.
type CreateDatasetRequest struct {
	TitlePrefix   string   `json:"titlePrefix"`
	DefaultVOrigL *float64 `json:"defaultVOrigL,omitempty"`
}

// Snapshot identifies an archived copy.
type Snapshot struct {
	DatasetID string `json:"datasetId"`
	Key       string `json:"key"`
}

func datasetPath(id string, suffix string) string {
	return fmt.Sprintf("/datasets/%s%s", url.PathEscape(id), suffix)
}

// List returns one page, newest first. Zero values use server defaults.
func (d *DatasetsClient) List(ctx context.Context, page, pageSize int) (*DatasetList, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if pageSize > 0 {
		q.Set("page_size", fmt.Sprint(pageSize))
	}
	path := "/datasets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out DatasetList
	if err := d.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns a whole dataset.
func (d *DatasetsClient) Get(ctx context.Context, id string) (*Dataset, error) {
	var out Dataset
	if err := d.client.get(ctx, datasetPath(id, ""), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create opens an empty dataset with one sampling point.
func (d *DatasetsClient) Create(ctx context.Context, req *CreateDatasetRequest) (*Dataset, error) {
	var out Dataset
	if err := d.client.post(ctx, "/datasets", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Replace overwrites a dataset. ds.ID must be blank or equal id.
func (d *DatasetsClient) Replace(ctx context.Context, id string, ds *Dataset) (*Dataset, error) {
	var out Dataset
	if err := d.client.put(ctx, datasetPath(id, ""), ds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a dataset.
func (d *DatasetsClient) Delete(ctx context.Context, id string) error {
	return d.client.delete(ctx, datasetPath(id, ""))
}

// Snapshot archives a read-only copy of the dataset.
func (d *DatasetsClient) Snapshot(ctx context.Context, id, reason string) (*Snapshot, error) {
	var out Snapshot
	body := struct {
		Reason string `json:"reason,omitempty"`
	}{Reason: reason}
	if err := d.client.post(ctx, datasetPath(id, "/snapshots"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
