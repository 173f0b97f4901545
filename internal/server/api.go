package server

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/enersight/energy-analytics/pkg/core"
	pkgserver "github.com/enersight/energy-analytics/pkg/server"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

var _ pkgserver.API = &serverImpl{}

func (s *serverImpl) buildRouter() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/rollups", s.handleQueryRollups).Methods("GET")
	r.HandleFunc("/tiers/{tier}/refresh", s.handleRefreshTier).Methods("POST")

	r.HandleFunc("/groups/{groupId}/train", s.handleTrain).Methods("POST")
	r.HandleFunc("/groups/{groupId}/model", s.handleActiveModel).Methods("GET")
	r.HandleFunc("/groups/{groupId}/predict", s.handlePredict).Methods("POST")

	r.HandleFunc("/groups/{groupId}/evaluate", s.handleEvaluate).Methods("POST")
	r.HandleFunc("/groups/{groupId}/performance", s.handleQueryPerformance).Methods("GET")
	r.HandleFunc("/groups/{groupId}/adjustments", s.handleRegisterAdjustment).Methods("POST")

	r.HandleFunc("/groups/{groupId}/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/findings", s.handleQueryFindings).Methods("GET")
	r.HandleFunc("/findings/resolve", s.handleResolveFinding).Methods("POST")

	r.HandleFunc("/groups/{groupId}/kpi", s.handleQueryKPI).Methods("GET")
	r.HandleFunc("/equipment/{equipmentId}/profile", s.handleEquipmentProfile).Methods("GET")

	return handlers.LoggingHandler(os.Stdout, r)
}

func (s *serverImpl) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("OK"))
}

// writeError 把结构化错误映射为HTTP状态码，响应体为错误JSON
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := pkgserver.AsError(err)
	if !ok {
		apiErr = &pkgserver.Error{Kind: pkgserver.ErrTransientStore, Detail: err.Error()}
	}

	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case pkgserver.ErrValidation:
		status = http.StatusBadRequest
	case pkgserver.ErrInsufficientData, pkgserver.ErrQualityGate:
		status = http.StatusUnprocessableEntity
	case pkgserver.ErrNoActiveModel, pkgserver.ErrNotFound:
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErr)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func pathUint(r *http.Request, name string) (uint, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	if err != nil {
		return 0, pkgserver.NewValidationError("路径参数%s不是合法的数字: %v", name, err)
	}
	return uint(v), nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, pkgserver.NewValidationError("缺少查询参数%s", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, pkgserver.NewValidationError("查询参数%s不是合法的RFC3339时间: %v", name, err)
	}
	return t, nil
}

func queryUint(r *http.Request, name string) uint {
	v, _ := strconv.ParseUint(r.URL.Query().Get(name), 10, 32)
	return uint(v)
}

func (s *serverImpl) handleQueryRollups(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.QueryRollups(&pkgserver.RollupQuery{
		EquipmentID: queryUint(r, "equipmentId"),
		GroupID:     queryUint(r, "groupId"),
		Tier:        core.TierName(r.URL.Query().Get("tier")),
		Start:       start,
		End:         end,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *serverImpl) handleRefreshTier(w http.ResponseWriter, r *http.Request) {
	s.RefreshTier(core.TierName(mux.Vars(r)["tier"]))
	_, _ = w.Write([]byte("OK"))
}

func (s *serverImpl) handleTrain(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}

	req := &pkgserver.TrainRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, pkgserver.NewValidationError("请求体不是合法的JSON: %v", err))
		return
	}
	req.GroupID = groupID

	summary, err := s.Train(req)
	if err != nil {
		// 质量闸门的错误响应里带上已落库的非活跃模型摘要
		if apiErr, ok := pkgserver.AsError(err); ok && apiErr.Kind == pkgserver.ErrQualityGate && summary != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": apiErr,
				"model": summary,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (s *serverImpl) handleActiveModel(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.ActiveModel(groupID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (s *serverImpl) handlePredict(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}

	features := map[string]float64{}
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		writeError(w, pkgserver.NewValidationError("请求体不是合法的JSON: %v", err))
		return
	}

	prediction, err := s.Predict(groupID, features)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, prediction)
}

func (s *serverImpl) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.Evaluate(groupID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *serverImpl) handleQueryPerformance(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}

	records, err := s.QueryPerformance(groupID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, records)
}

func (s *serverImpl) handleRegisterAdjustment(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}

	body := struct {
		EffectiveAt time.Time `json:"effectiveAt"`
		Reason      string    `json:"reason"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, pkgserver.NewValidationError("请求体不是合法的JSON: %v", err))
		return
	}

	adj, err := s.RegisterAdjustment(groupID, body.EffectiveAt, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, adj)
}

func (s *serverImpl) handleDetect(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}

	req := &pkgserver.DetectRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeError(w, pkgserver.NewValidationError("请求体不是合法的JSON: %v", err))
		return
	}
	req.GroupID = groupID

	findings, err := s.Detect(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, findings)
}

func (s *serverImpl) handleQueryFindings(w http.ResponseWriter, r *http.Request) {
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}

	findings, err := s.QueryFindings(&pkgserver.FindingQuery{
		EquipmentID: queryUint(r, "equipmentId"),
		GroupID:     queryUint(r, "groupId"),
		Start:       start,
		End:         end,
		Severity:    core.Severity(r.URL.Query().Get("severity")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, findings)
}

func (s *serverImpl) handleResolveFinding(w http.ResponseWriter, r *http.Request) {
	body := struct {
		EquipmentID uint      `json:"equipmentId"`
		Timestamp   time.Time `json:"timestamp"`
		Metric      string    `json:"metric"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, pkgserver.NewValidationError("请求体不是合法的JSON: %v", err))
		return
	}

	if err := s.ResolveFinding(body.EquipmentID, body.Timestamp, body.Metric); err != nil {
		writeError(w, err)
		return
	}
	_, _ = w.Write([]byte("OK"))
}

func (s *serverImpl) handleQueryKPI(w http.ResponseWriter, r *http.Request) {
	groupID, err := pathUint(r, "groupId")
	if err != nil {
		writeError(w, err)
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}

	bundle, err := s.QueryKPI(groupID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, bundle)
}

func (s *serverImpl) handleEquipmentProfile(w http.ResponseWriter, r *http.Request) {
	equipmentID, err := pathUint(r, "equipmentId")
	if err != nil {
		writeError(w, err)
		return
	}
	assignment, err := s.EquipmentProfile(equipmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, assignment)
}
