package models

// RuntimeInfo describes the server's base URLs so browser clients can build
// API and WebSocket endpoints without hardcoding the port.
type RuntimeInfo struct {
	HTTPBaseURL string `json:"http_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
	Port        int    `json:"port"`
}
