package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	"github.com/enersight/energy-analytics/pkg/server"
	"github.com/pkg/errors"
)

const defaultApiHostBaseUrl = "http://energy-analytics.energy-analytics"

// NewApiClient 创建访问分析服务的客户端。baseUrl为空时使用集群内默认地址。
func NewApiClient(baseUrl string) server.API {
	if baseUrl == "" {
		baseUrl = defaultApiHostBaseUrl
	}
	return &apiClient{baseUrl: baseUrl}
}

var _ server.API = &apiClient{}

type apiClient struct {
	baseUrl string
}

// decodeResponse 读取响应体。非2xx响应解析为结构化错误返回。
func decodeResponse(response *http.Response, dest interface{}) error {
	defer func() { _ = response.Body.Close() }()
	body, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(err, "读取时出现异常")
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		apiErr := &server.Error{}
		if err := json.Unmarshal(body, apiErr); err == nil && apiErr.Kind != "" {
			return apiErr
		}
		return fmt.Errorf("请求失败，状态码%d，响应为\n%s", response.StatusCode, string(body))
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return errors.Wrap(err, fmt.Sprintf("解析json异常，json为\n%s", string(body)))
	}
	return nil
}

func (a *apiClient) getJSON(path string, query url.Values, dest interface{}) error {
	u := a.baseUrl + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	response, err := http.Get(u)
	if err != nil {
		return errors.Wrap(err, "请求时出现异常")
	}
	return decodeResponse(response, dest)
}

func (a *apiClient) postJSON(path string, query url.Values, body interface{}, dest interface{}) error {
	marshal, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "序列化请求体出现异常")
	}

	u := a.baseUrl + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	response, err := http.Post(u, "application/json", bytes.NewReader(marshal))
	if err != nil {
		return errors.Wrap(err, "请求时出现异常")
	}
	return decodeResponse(response, dest)
}

func timeRange(start, end time.Time) url.Values {
	return url.Values{
		"start": []string{start.UTC().Format(time.RFC3339)},
		"end":   []string{end.UTC().Format(time.RFC3339)},
	}
}

func (a *apiClient) QueryRollups(q *server.RollupQuery) (*server.RollupResult, error) {
	query := timeRange(q.Start, q.End)
	query.Set("tier", string(q.Tier))
	if q.EquipmentID != 0 {
		query.Set("equipmentId", fmt.Sprint(q.EquipmentID))
	}
	if q.GroupID != 0 {
		query.Set("groupId", fmt.Sprint(q.GroupID))
	}

	dest := &server.RollupResult{}
	if err := a.getJSON("/rollups", query, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) Train(req *server.TrainRequest) (*server.ModelSummary, error) {
	dest := &server.ModelSummary{}
	err := a.postJSON(fmt.Sprintf("/groups/%d/train", req.GroupID), nil, req, dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) ActiveModel(groupID uint) (*server.ModelSummary, error) {
	dest := &server.ModelSummary{}
	if err := a.getJSON(fmt.Sprintf("/groups/%d/model", groupID), nil, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) Predict(groupID uint, features map[string]float64) (*server.Prediction, error) {
	dest := &server.Prediction{}
	err := a.postJSON(fmt.Sprintf("/groups/%d/predict", groupID), nil, features, dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) Evaluate(groupID uint, periodStart, periodEnd time.Time) (*server.PerformanceRecord, error) {
	dest := &server.PerformanceRecord{}
	err := a.postJSON(fmt.Sprintf("/groups/%d/evaluate", groupID), timeRange(periodStart, periodEnd), nil, dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) QueryPerformance(groupID uint, start, end time.Time) ([]*server.PerformanceRecord, error) {
	var dest []*server.PerformanceRecord
	err := a.getJSON(fmt.Sprintf("/groups/%d/performance", groupID), timeRange(start, end), &dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) RegisterAdjustment(groupID uint, effectiveAt time.Time, reason string) (*server.Adjustment, error) {
	body := map[string]interface{}{
		"effectiveAt": effectiveAt.UTC().Format(time.RFC3339),
		"reason":      reason,
	}
	dest := &server.Adjustment{}
	err := a.postJSON(fmt.Sprintf("/groups/%d/adjustments", groupID), nil, body, dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) Detect(req *server.DetectRequest) ([]*server.Finding, error) {
	var dest []*server.Finding
	err := a.postJSON(fmt.Sprintf("/groups/%d/detect", req.GroupID), nil, req, &dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) QueryFindings(q *server.FindingQuery) ([]*server.Finding, error) {
	query := timeRange(q.Start, q.End)
	if q.EquipmentID != 0 {
		query.Set("equipmentId", fmt.Sprint(q.EquipmentID))
	}
	if q.GroupID != 0 {
		query.Set("groupId", fmt.Sprint(q.GroupID))
	}
	if q.Severity != "" {
		query.Set("severity", string(q.Severity))
	}

	var dest []*server.Finding
	if err := a.getJSON("/findings", query, &dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) ResolveFinding(equipmentID uint, timestamp time.Time, metric string) error {
	body := map[string]interface{}{
		"equipmentId": equipmentID,
		"timestamp":   timestamp.UTC().Format(time.RFC3339),
		"metric":      metric,
	}
	return a.postJSON("/findings/resolve", nil, body, nil)
}

func (a *apiClient) QueryKPI(groupID uint, periodStart, periodEnd time.Time) (*server.KPIBundle, error) {
	dest := &server.KPIBundle{}
	err := a.getJSON(fmt.Sprintf("/groups/%d/kpi", groupID), timeRange(periodStart, periodEnd), dest)
	if err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) EquipmentProfile(equipmentID uint) (*server.ProfileAssignment, error) {
	dest := &server.ProfileAssignment{}
	if err := a.getJSON(fmt.Sprintf("/equipment/%d/profile", equipmentID), nil, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

func (a *apiClient) RefreshTier(tier core.TierName) {
	_ = a.postJSON(fmt.Sprintf("/tiers/%s/refresh", tier), nil, nil, nil)
}
