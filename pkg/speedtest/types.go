package speedtest

import "time"

// Result is a single throughput measurement.
type Result struct {
	Timestamp    time.Time     `json:"timestamp"`
	DownloadMbps float64       `json:"download_mbps"`
	UploadMbps   float64       `json:"upload_mbps"`
	PingMs       float64       `json:"ping_ms"`
	ISP          string        `json:"isp,omitempty"`
	ServerName   string        `json:"server_name,omitempty"`
	ServerHost   string        `json:"server_host,omitempty"`
	Duration     time.Duration `json:"duration"`

	CandidateCount int `json:"candidate_count"`
	FullTestCount  int `json:"full_test_count"`
}
