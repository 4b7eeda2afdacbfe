package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

var catalogFields = []string{"STATION", "STNAME", "REGION", "STNTYPE", "LATITUDE", "LONGITUDE", "COMMENCE", "CEASE"}

type catalogRequest struct {
	Function string        `json:"function"`
	Version  string        `json:"version"`
	Params   catalogParams `json:"params"`
}

type catalogParams struct {
	TableName  string   `json:"table_name"`
	ReturnType string   `json:"return_type"`
	FieldList  []string `json:"field_list"`
}

type catalogResponse struct {
	ErrorNum int    `json:"error_num"`
	ErrorMsg string `json:"error_msg"`
	Return   *struct {
		Rows []catalogRow `json:"rows"`
	} `json:"return"`
}

type catalogRow struct {
	Station   string   `json:"station"`
	StName    string   `json:"stname"`
	Region    string   `json:"region"`
	StnType   string   `json:"stntype"`
	Latitude  flexible `json:"latitude"`
	Longitude flexible `json:"longitude"`
	Commence  flexible `json:"commence"`
	Cease     flexible `json:"cease"`
}

// flexible holds a JSON scalar that may arrive as a number or a string.
type flexible string

func (f *flexible) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexible(s)
		return nil
	}
	*f = flexible(b)
	return nil
}

// float coerces to a number, NaN when the value is missing or not numeric.
func (f flexible) float() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func (f flexible) int() (int, error) {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (c *Client) catalogURL() (string, error) {
	payload, err := json.Marshal(catalogRequest{
		Function: "get_db_info",
		Version:  "3",
		Params: catalogParams{
			TableName:  "SITE",
			ReturnType: "array",
			FieldList:  catalogFields,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode catalog request: %w", err)
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid WMIP URL: %w", err)
	}
	u.RawQuery = url.PathEscape(string(payload))
	return u.String(), nil
}

// GetCatalog returns every site in the WMIP SITE table. Filtering to active gauges is
// left to the caller.
func (c *Client) GetCatalog(ctx context.Context) ([]models.Station, error) {
	rawURL, err := c.catalogURL()
	if err != nil {
		return nil, err
	}

	var stations []models.Station
	err = c.do(ctx, endpointCatalog, rawURL, "application/json", func(resp *http.Response) error {
		var body catalogResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("%w: parse catalog: %v", ErrUnexpectedResponse, err)
		}
		if body.ErrorNum != 0 {
			return fmt.Errorf("%w: catalog error %d: %s", ErrUnexpectedResponse, body.ErrorNum, body.ErrorMsg)
		}
		if body.Return == nil || body.Return.Rows == nil {
			return fmt.Errorf("%w: catalog has no rows", ErrUnexpectedResponse)
		}
		out, err := mapCatalogRows(body.Return.Rows)
		if err != nil {
			return err
		}
		stations = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stations, nil
}

func mapCatalogRows(rows []catalogRow) ([]models.Station, error) {
	out := make([]models.Station, 0, len(rows))
	for i, r := range rows {
		commence, err := r.Commence.int()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d commence %q", ErrUnexpectedResponse, i, string(r.Commence))
		}
		cease, err := r.Cease.int()
		if err != nil {
			return nil, fmt.Errorf("%w: row %d cease %q", ErrUnexpectedResponse, i, string(r.Cease))
		}
		out = append(out, models.Station{
			Code:      strings.TrimSpace(r.Station),
			Name:      strings.TrimSpace(r.StName),
			Region:    strings.TrimSpace(r.Region),
			Type:      strings.TrimSpace(r.StnType),
			Latitude:  r.Latitude.float(),
			Longitude: r.Longitude.float(),
			Commence:  commence,
			Cease:     cease,
		})
	}
	return out, nil
}
