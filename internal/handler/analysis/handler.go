package analysis

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/llm-relay/backend/internal/analysis/chainage"
	"github.com/zhouzirui/llm-relay/backend/internal/handler/httperr"
	"github.com/zhouzirui/llm-relay/backend/internal/observability"
	"github.com/zhouzirui/llm-relay/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

var errBadUpload = errors.New("bad upload")

// Handler 里程匹配分析的HTTP处理器
type Handler struct {
	columns chainage.Columns
}

// New 创建分析处理器
func New() *Handler {
	return &Handler{columns: chainage.DefaultColumns}
}

// RegisterRoutes 注册分析相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chainage", func(cr chi.Router) {
		cr.Post("/match", h.handleMatch)
		cr.Post("/export", h.handleExport)
		cr.Post("/plot", h.handlePlot)
	})
}

// TableView 是匹配结果中一张表的 JSON 表示。
type TableView struct {
	Name    string              `json:"name"`
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// WindowView 是单个目标里程的匹配结果。
type WindowView struct {
	Target  float64   `json:"target"`
	Digging TableView `json:"digging"`
	Leaks   TableView `json:"leaks"`
}

func viewOf(t *chainage.Table) TableView {
	rows := make([]map[string]string, 0, t.Len())
	for _, row := range t.Rows {
		rows = append(rows, t.Record(row))
	}
	return TableView{Name: t.Name, Columns: t.Columns, Rows: rows}
}

// match parses the upload and runs the proximity filter for every target.
func (h *Handler) match(r *http.Request) ([]chainage.Window, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: expected multipart form with digging and leaks files", errBadUpload)
	}

	digging, err := h.loadPart(r, "digging")
	if err != nil {
		return nil, err
	}
	leaks, err := h.loadPart(r, "leaks")
	if err != nil {
		return nil, err
	}

	var targets []float64
	if raw := strings.TrimSpace(r.FormValue("targets")); raw != "" {
		if targets, err = chainage.ParseTargets(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadUpload, err)
		}
	} else {
		targets = chainage.Targets(digging)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no target chainages", errBadUpload)
	}

	windows, err := chainage.Match(digging, leaks, h.columns.Chainage, targets)
	if err != nil {
		return nil, err
	}

	observability.LoggerFromContext(r.Context()).
		WithField("targets", len(targets)).
		WithField("digging_rows", digging.Len()).
		WithField("leak_rows", leaks.Len()).
		Info("[chainage] matched")
	return windows, nil
}

func (h *Handler) loadPart(r *http.Request, field string) (*chainage.Table, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %s file is required", errBadUpload, field)
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	return chainage.Load(header.Filename, file, h.columns)
}

func respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBadUpload) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	httperr.Respond(w, err)
}

func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	windows, err := h.match(r)
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]WindowView, 0, len(windows))
	for _, win := range windows {
		views = append(views, WindowView{Target: win.Target, Digging: viewOf(win.Digging), Leaks: viewOf(win.Leaks)})
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"tolerance": chainage.Tolerance,
		"windows":   views,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	windows, err := h.match(r)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="chainage_matches.csv"`)
	if err := chainage.Export(w, windows); err != nil {
		observability.LoggerFromContext(r.Context()).WithError(err).Warn("[chainage] export failed")
	}
}

func (h *Handler) handlePlot(w http.ResponseWriter, r *http.Request) {
	windows, err := h.match(r)
	if err != nil {
		respondError(w, err)
		return
	}

	win := windows[0]
	if raw := strings.TrimSpace(r.FormValue("target")); raw != "" {
		target, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "target must be a number")
			return
		}
		found := false
		for _, candidate := range windows {
			if candidate.Target == target {
				win, found = candidate, true
				break
			}
		}
		if !found {
			utils.RespondError(w, http.StatusBadRequest, "target is not in the target list")
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	if err := chainage.Plot(w, win); err != nil {
		observability.LoggerFromContext(r.Context()).WithError(err).Warn("[chainage] plot failed")
	}
}
