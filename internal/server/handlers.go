package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/n0madic/go-devcodec/internal/codec"
	"github.com/n0madic/go-devcodec/internal/pipeline"
	"github.com/n0madic/go-devcodec/internal/session"
	"github.com/n0madic/go-devcodec/internal/settings"
	"github.com/n0madic/go-devcodec/internal/tools"
)

const convertTimeout = 30 * time.Second

type toolInfo struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description"`
	Group       string   `json:"group"`
	Keywords    []string `json:"keywords"`
	Directions  []string `json:"directions"`
	Default     modeInfo `json:"default_mode"`
}

type modeInfo struct {
	Direction string `json:"direction"`
	Encoding  string `json:"encoding"`
}

type detectRequest struct {
	Data string `json:"data"`
}

type detectResponse struct {
	Tools []string `json:"tools"`
}

type convertRequest struct {
	Tool      string `json:"tool"`
	Direction string `json:"direction,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Input     string `json:"input"`
}

type convertResponse struct {
	Session        string   `json:"session"`
	Tool           string   `json:"tool"`
	Mode           modeInfo `json:"mode"`
	Output         string   `json:"output"`
	Succeeded      bool     `json:"succeeded"`
	ErrorKind      string   `json:"error_kind,omitempty"`
	InputLanguage  string   `json:"input_language"`
	OutputLanguage string   `json:"output_language"`
}

func newModeInfo(m tools.Mode) modeInfo {
	return modeInfo{Direction: string(m.Direction), Encoding: m.Encoding.String()}
}

func newToolInfo(t tools.Tool) toolInfo {
	dirs := make([]string, 0, len(t.Directions()))
	for _, d := range t.Directions() {
		dirs = append(dirs, string(d))
	}
	return toolInfo{
		Name:        t.Name(),
		DisplayName: t.DisplayName(),
		Description: t.Description(),
		Group:       t.Group(),
		Keywords:    t.Keywords(),
		Directions:  dirs,
		Default:     newModeInfo(t.DefaultMode()),
	}
}

// handleListTools handles GET /v1/tools.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	list := s.Registry.List()
	out := make([]toolInfo, 0, len(list))
	for _, t := range list {
		out = append(out, newToolInfo(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

// handleDetect handles POST /v1/detect.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !readJSON(w, r, &req) {
		return
	}
	names := []string{}
	for _, t := range s.Registry.Detect(req.Data) {
		names = append(names, t.Name())
	}
	writeJSON(w, http.StatusOK, detectResponse{Tools: names})
}

// handleConvert handles POST /v1/convert. Each request runs through its own
// short-lived session so it takes the same path as interactive use.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req convertRequest
	if !readJSON(w, r, &req) {
		return
	}

	tool, err := s.Registry.Get(req.Tool)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_tool", err.Error())
		return
	}

	mode, err := requestMode(tool, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}

	store := settings.NewMemoryStore()
	store.Set(tool.Name(), settings.KeyDirection, string(mode.Direction)) //nolint:errcheck
	store.Set(tool.Name(), settings.KeyEncoding, mode.Encoding.String())  //nolint:errcheck

	sess := session.New(tool, session.Options{
		Store:      store,
		Dispatcher: pipeline.Inline,
		Pool:       s.Pool,
	})
	ctx, cancel := context.WithTimeout(r.Context(), convertTimeout)
	defer cancel()
	defer sess.Close(context.Background()) //nolint:errcheck

	if err := sess.SetInput(req.Input); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if err := sess.Wait(ctx); err != nil {
		status := http.StatusGatewayTimeout
		if errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "timeout", "conversion did not finish in time")
		return
	}

	out := sess.Output()
	writeJSON(w, http.StatusOK, convertResponse{
		Session:        sess.ID,
		Tool:           tool.Name(),
		Mode:           newModeInfo(sess.Mode()),
		Output:         out.Text,
		Succeeded:      out.Succeeded,
		ErrorKind:      codec.KindName(out.Err),
		InputLanguage:  sess.InputLanguage(),
		OutputLanguage: sess.OutputLanguage(),
	})
}

// requestMode applies the request's overrides to the tool's default mode.
func requestMode(tool tools.Tool, req convertRequest) (tools.Mode, error) {
	mode := tool.DefaultMode()
	if strings.TrimSpace(req.Direction) != "" {
		d, err := tools.ParseDirection(tool, req.Direction)
		if err != nil {
			return mode, err
		}
		mode.Direction = d
	}
	if e := strings.TrimSpace(req.Encoding); e != "" {
		enc, err := codec.ParseTextEncoding(e)
		if err != nil {
			return mode, err
		}
		mode.Encoding = enc
	}
	return mode, tools.ValidateMode(tool, mode)
}
