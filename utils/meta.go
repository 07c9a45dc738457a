package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MetaAPI is the slice of the Meta Graph API the ingestion pipeline depends
// on. "Not found" is reported as (nil, nil); only transport and API-level
// failures return an error.
type MetaAPI interface {
	FetchLead(leadID, accessToken string) (*MetaLead, error)
	FetchPage(pageID, accessToken string) (*MetaObject, error)
	FetchForm(formID, accessToken string) (*MetaObject, error)
	FetchAd(adID, accessToken string) (*MetaAdDetail, error)
}

// MetaObject is a generic named Graph node (page, form).
type MetaObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MetaAdDetail carries the ad name plus its campaign and adset names.
type MetaAdDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Adset    struct {
		Name string `json:"name"`
	} `json:"adset"`
	Campaign struct {
		Name string `json:"name"`
	} `json:"campaign"`
}

// MetaFieldData is one question/answer pair from a lead form submission.
type MetaFieldData struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// MetaLead is a submitted lead form entry.
type MetaLead struct {
	ID          string          `json:"id"`
	CreatedTime string          `json:"created_time"`
	FieldData   []MetaFieldData `json:"field_data"`
}

// Fields flattens the field data into a map, joining multi-value answers
// with a comma. Unknown keys are preserved as-is.
func (l *MetaLead) Fields() map[string]string {
	out := make(map[string]string, len(l.FieldData))
	for _, fd := range l.FieldData {
		if len(fd.Values) == 0 {
			continue
		}
		v := fd.Values[0]
		for _, extra := range fd.Values[1:] {
			v += ", " + extra
		}
		out[fd.Name] = v
	}
	return out
}

// FieldNames returns the question names in submission order.
func (l *MetaLead) FieldNames() []string {
	names := make([]string, 0, len(l.FieldData))
	for _, fd := range l.FieldData {
		if len(fd.Values) == 0 {
			continue
		}
		names = append(names, fd.Name)
	}
	return names
}

// MetaClient talks to the Meta Graph API over plain HTTP.
type MetaClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewMetaClient(baseURL string) *MetaClient {
	return &MetaClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type metaError struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Graph error code for an unknown or unreadable object id.
const metaCodeUnknownObject = 100

func (mc *MetaClient) get(path, accessToken string, fields string, out interface{}) (bool, error) {
	q := url.Values{}
	q.Set("access_token", accessToken)
	if fields != "" {
		q.Set("fields", fields)
	}

	resp, err := mc.HTTPClient.Get(mc.BaseURL + "/" + path + "?" + q.Encode())
	if err != nil {
		return false, fmt.Errorf("meta graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("meta graph read failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr metaError
		if json.Unmarshal(body, &apiErr) == nil {
			if resp.StatusCode == http.StatusNotFound || apiErr.Error.Code == metaCodeUnknownObject {
				return false, nil
			}
			return false, fmt.Errorf("meta graph error %d: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return false, fmt.Errorf("meta graph returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("meta graph decode failed: %w", err)
	}
	return true, nil
}

func (mc *MetaClient) FetchLead(leadID, accessToken string) (*MetaLead, error) {
	var lead MetaLead
	found, err := mc.get(leadID, accessToken, "id,created_time,field_data", &lead)
	if err != nil || !found {
		return nil, err
	}
	return &lead, nil
}

func (mc *MetaClient) FetchPage(pageID, accessToken string) (*MetaObject, error) {
	var page MetaObject
	found, err := mc.get(pageID, accessToken, "id,name", &page)
	if err != nil || !found {
		return nil, err
	}
	return &page, nil
}

func (mc *MetaClient) FetchForm(formID, accessToken string) (*MetaObject, error) {
	var form MetaObject
	found, err := mc.get(formID, accessToken, "id,name", &form)
	if err != nil || !found {
		return nil, err
	}
	return &form, nil
}

func (mc *MetaClient) FetchAd(adID, accessToken string) (*MetaAdDetail, error) {
	var ad MetaAdDetail
	found, err := mc.get(adID, accessToken, "id,name,adset{name},campaign{name}", &ad)
	if err != nil || !found {
		return nil, err
	}
	return &ad, nil
}
