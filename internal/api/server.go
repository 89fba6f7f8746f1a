// Package api serves the bridge's status over HTTP.
package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/mr72-bridge/internal/distance"
	"github.com/banshee-data/mr72-bridge/internal/httputil"
	"github.com/banshee-data/mr72-bridge/internal/link"
	"github.com/banshee-data/mr72-bridge/internal/mr72"
	"github.com/banshee-data/mr72-bridge/internal/version"
)

// StatusProvider is implemented by *link.Bridge.
type StatusProvider interface {
	Status() link.Status
}

// Server exposes a running bridge's status.
type Server struct {
	bridge StatusProvider
	runID  string
	now    func() time.Time
}

// NewServer returns a server reporting on bridge. Every process gets a fresh
// run id so restarts are visible to whoever polls the status.
func NewServer(bridge StatusProvider) *Server {
	return &Server{
		bridge: bridge,
		runID:  uuid.NewString(),
		now:    time.Now,
	}
}

// RunID identifies this bridge process.
func (s *Server) RunID() string {
	return s.runID
}

// VersionInfo is the build metadata of the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Reading is one radar slot in a status response.
type Reading struct {
	Millimetres uint16 `json:"mm"`
	Valid       bool   `json:"valid"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	RunID    string             `json:"run_id"`
	Version  VersionInfo        `json:"version"`
	Uptime   string             `json:"uptime"`
	Input    link.LinkStatus    `json:"input"`
	Output   link.LinkStatus    `json:"output"`
	Stats    link.Stats         `json:"stats"`
	Seq      uint64             `json:"seq"`
	Updated  *time.Time         `json:"updated,omitempty"`
	Readings map[string]Reading `json:"readings"`
}

func readings(snap distance.Snapshot) map[string]Reading {
	out := make(map[string]Reading, mr72.NumReadings)
	for id := mr72.ReadingID(0); id < mr72.NumReadings; id++ {
		mm, ok := snap.Distance(id)
		out[id.String()] = Reading{Millimetres: mm, Valid: ok}
	}
	return out
}

func (s *Server) status() StatusResponse {
	st := s.bridge.Status()
	resp := StatusResponse{
		RunID: s.runID,
		Version: VersionInfo{
			Version:   version.Version,
			GitSHA:    version.GitSHA,
			BuildTime: version.BuildTime,
		},
		Uptime:   s.now().Sub(st.Started).Truncate(time.Second).String(),
		Input:    st.Input,
		Output:   st.Output,
		Stats:    st.Stats,
		Seq:      st.Snapshot.Seq,
		Readings: readings(st.Snapshot),
	}
	if st.Snapshot.Seq > 0 {
		resp.Updated = &st.Snapshot.Updated
	}
	return resp
}

// ServeMux returns the public API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/readings/{name}", s.showReading)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.status())
}

func (s *Server) showReading(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	name := r.PathValue("name")
	reading, ok := readings(s.bridge.Status().Snapshot)[name]
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no reading named %q", name))
		return
	}
	httputil.WriteJSONOK(w, reading)
}

// AttachAdminRoutes attaches debug pages to mux under /debug/. These routes
// are accessible only over localhost/via Tailscale.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KV("Run ID", s.runID)
	debug.KVFunc("Input link", func() any { return s.bridge.Status().Input.State })
	debug.KVFunc("Output link", func() any { return s.bridge.Status().Output.State })

	debug.HandleFunc("bridge", "bridge links and counters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		writeSummary(w, s.status())
	})
	debug.HandleFunc("snapshot", "latest radar snapshot (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.bridge.Status().Snapshot)
	})
}

func writeSummary(w io.Writer, st StatusResponse) {
	fmt.Fprintf(w, "run %s, version %s (%s), up %s\n\n", st.RunID, st.Version.Version, st.Version.GitSHA, st.Uptime)
	for _, l := range []link.LinkStatus{st.Input, st.Output} {
		fmt.Fprintf(w, "%-6s %-12s %s  connects=%d failures=%d\n", l.Name, l.State, l.Target, l.Connects, l.Failures)
		if l.LastError != "" {
			fmt.Fprintf(w, "       last error: %s\n", l.LastError)
		}
	}

	d := st.Stats.Decoder
	fmt.Fprintf(w, "\nbytes read %d, frames %d, checksum errors %d, discarded %d\n",
		st.Stats.BytesRead, d.FramesDecoded, d.ChecksumErrors, d.BytesDiscarded)
	fmt.Fprintf(w, "messages sent %d, heartbeats %d, write errors %d\n",
		st.Stats.MessagesSent, st.Stats.Heartbeats, st.Stats.WriteErrors)
	rate := st.Stats.InputFrames
	fmt.Fprintf(w, "input %.1f Hz, jitter %.1f ms, max gap %.0f ms\n\n", rate.RateHz, rate.JitterMs, rate.MaxGapMs)

	fmt.Fprintf(w, "snapshot seq %d\n", st.Seq)
	for id := mr72.ReadingID(0); id < mr72.NumReadings; id++ {
		r := st.Readings[id.String()]
		if r.Valid {
			fmt.Fprintf(w, "  %-11s %5d mm\n", id, r.Millimetres)
		} else {
			fmt.Fprintf(w, "  %-11s     -\n", id)
		}
	}
}
