package evaluation

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
	evalsvc "github.com/zhouzirui/ise-evaluator/internal/service/evaluation"
	"github.com/zhouzirui/ise-evaluator/pkg/utils"
)

const maxUploadSize = 32 << 20

// EvaluationService 抽象评测业务，便于测试与替换实现
type EvaluationService interface {
	Evaluate(ctx context.Context, req *model.Request) (*model.Result, error)
}

// Handler 语音评测的HTTP处理器
type Handler struct {
	svc EvaluationService
}

// New 创建评测处理器
func New(svc EvaluationService) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册评测相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evaluation", func(er chi.Router) {
		er.Get("/health", h.handleHealth)
		er.Get("/kinds", h.handleKinds)
		er.Post("/", h.handleEvaluate)
		er.Post("/{sessionID}", h.handleEvaluateWithSession)
	})
}

// evaluationResponse 评测接口响应
type evaluationResponse struct {
	SessionID  string             `json:"sessionId"`
	SID        string             `json:"sid,omitempty"`
	Kind       string             `json:"kind"`
	TotalScore float64            `json:"totalScore"`
	Rejected   bool               `json:"rejected"`
	Exception  *model.Exception   `json:"exception,omitempty"`
	Dimensions map[string]float64 `json:"dimensions"`
	Summary    map[string]any     `json:"summary"`
	RawXML     string             `json:"rawXml,omitempty"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	h.processEvaluate(w, r, "")
}

func (h *Handler) handleEvaluateWithSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}
	h.processEvaluate(w, r, sessionID)
}

func (h *Handler) processEvaluate(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	if h.svc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "evaluation service unavailable")
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	kindRaw := r.FormValue("kind")
	if kindRaw == "" {
		kindRaw = "en_sentence"
	}
	kind, err := model.ParseKind(kindRaw)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	text := r.FormValue("text")
	if strings.TrimSpace(text) == "" {
		text = kind.DefaultText()
	}

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	req, err := model.NewRequest(sessionID, audio, kind, text)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.Evaluate(r.Context(), req)
	if err != nil {
		logrus.WithError(err).WithField("session", sessionID).Error("[evaluation] ISE error")
		utils.RespondError(w, statusForError(err), "speech evaluation failed: "+string(evalsvc.KindOf(err)))
		return
	}

	resp := evaluationResponse{
		SessionID:  result.SessionID,
		SID:        result.SID,
		Kind:       kind.String(),
		TotalScore: result.TotalScore,
		Rejected:   result.Rejected,
		Exception:  result.Exception,
		Dimensions: result.Dimensions,
		Summary:    result.Summary(),
	}
	if r.URL.Query().Get("raw") == "1" {
		resp.RawXML = result.RawMarkup
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// statusForError 将评测错误类型映射为 HTTP 状态码
func statusForError(err error) int {
	switch evalsvc.KindOf(err) {
	case evalsvc.KindInvalidRequest:
		return http.StatusBadRequest
	case evalsvc.KindTimeout:
		return http.StatusGatewayTimeout
	case evalsvc.KindConnect, evalsvc.KindTransport, evalsvc.KindService, evalsvc.KindMalformedPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleKinds(w http.ResponseWriter, _ *http.Request) {
	kinds := model.AllKinds()
	out := make([]map[string]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, map[string]string{
			"kind":        k.String(),
			"category":    k.Category.WireName(),
			"ent":         k.Language.Profile(),
			"defaultText": k.DefaultText(),
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if h.svc == nil {
		status = "disabled"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "evaluation",
	})
}
