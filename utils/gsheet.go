package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GSheetAPI is the bridge to a user-owned external spreadsheet. The bridge
// is a web-app endpoint the user deploys against their own sheet; the sheet
// URL itself is the capability, no separate credential is exchanged.
type GSheetAPI interface {
	ValidateAccess(sheetURL string) ([]TabInfo, error)
	FetchRange(sheetURL, tab string, fromRow, toRow int) (*RangeData, error)
	WriteRange(sheetURL, tab string, data [][]string) error
}

// TabInfo describes one worksheet tab of a linked spreadsheet.
type TabInfo struct {
	Name     string `json:"name"`
	RowCount int    `json:"row_count"`
}

// RangeData is a fetched slice of a tab: the header row plus data rows.
type RangeData struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// GSheetClient posts action requests to the bridge endpoint.
type GSheetClient struct {
	HTTPClient *http.Client
}

func NewGSheetClient(timeout time.Duration) *GSheetClient {
	return &GSheetClient{
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type bridgeRequest struct {
	Action  string     `json:"action"`
	Tab     string     `json:"tab,omitempty"`
	FromRow int        `json:"from_row,omitempty"`
	ToRow   int        `json:"to_row,omitempty"`
	Data    [][]string `json:"data,omitempty"`
}

type bridgeResponse struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Tabs    []TabInfo  `json:"tabs,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows,omitempty"`
}

func (gc *GSheetClient) call(sheetURL string, req bridgeRequest) (*bridgeResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := gc.HTTPClient.Post(sheetURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sheet bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sheet bridge returned status %d", resp.StatusCode)
	}

	var out bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("sheet bridge decode failed: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("sheet bridge error: %s", out.Error)
	}
	return &out, nil
}

func (gc *GSheetClient) ValidateAccess(sheetURL string) ([]TabInfo, error) {
	resp, err := gc.call(sheetURL, bridgeRequest{Action: "list_tabs"})
	if err != nil {
		return nil, err
	}
	return resp.Tabs, nil
}

func (gc *GSheetClient) FetchRange(sheetURL, tab string, fromRow, toRow int) (*RangeData, error) {
	resp, err := gc.call(sheetURL, bridgeRequest{
		Action:  "fetch_range",
		Tab:     tab,
		FromRow: fromRow,
		ToRow:   toRow,
	})
	if err != nil {
		return nil, err
	}
	return &RangeData{Headers: resp.Headers, Rows: resp.Rows}, nil
}

func (gc *GSheetClient) WriteRange(sheetURL, tab string, data [][]string) error {
	_, err := gc.call(sheetURL, bridgeRequest{
		Action: "write_range",
		Tab:    tab,
		Data:   data,
	})
	return err
}
