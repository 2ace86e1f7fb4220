package monitor

import "github.com/yzhangec/mavic-qrscan/internal/control"

// FrameStats describes the frame slot.
type FrameStats struct {
	Ready  bool   `json:"ready"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Seq    uint64 `json:"seq"`
}

// ScanStats describes the scan worker.
type ScanStats struct {
	PeriodMs        int64  `json:"period_ms"`
	Cycles          uint64 `json:"cycles"`
	Retries         uint64 `json:"retries"`
	Overruns        uint64 `json:"overruns"`
	DecodeErrors    uint64 `json:"decode_errors"`
	DecodeLatencyMs uint64 `json:"decode_latency_ms"`
}

// ResultStats summarises the result log.
type ResultStats struct {
	Count  int      `json:"count"`
	Latest string   `json:"latest,omitempty"`
	Recent []string `json:"recent"`
}

// DisplayStats describes the MJPEG preview.
type DisplayStats struct {
	Clients      int64   `json:"clients"`
	Rendered     uint64  `json:"rendered"`
	RenderErrors uint64  `json:"render_errors"`
	CurrentFPS   float64 `json:"current_fps"`
}

// Status is the payload for /api/status and /api/status/stream.
type Status struct {
	SessionID string        `json:"session_id"`
	UptimeS   float64       `json:"uptime_s"`
	Frame     FrameStats    `json:"frame"`
	Scan      ScanStats     `json:"scan"`
	Results   ResultStats   `json:"results"`
	Display   DisplayStats  `json:"display"`
	Control   *control.Axes `json:"control,omitempty"`
	Timestamp float64       `json:"timestamp"`
}

// ResultEvent is the payload for /api/results/stream.
type ResultEvent struct {
	EventID   string  `json:"event_id"`
	SessionID string  `json:"session_id"`
	Index     int     `json:"index"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// KeyRequest is the body of POST /api/control/key.
type KeyRequest struct {
	Key    string `json:"key"`
	Action string `json:"action"` // "down" or "up"
}
